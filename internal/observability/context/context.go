package context

import (
	"context"
	"strings"
)

type contextKey string

const (
	requestIDKey   contextKey = "request_id"
	chargePointKey contextKey = "charge_point"
	connectorKey   contextKey = "connector_id"
)

// WithRequestID stores the request correlation id on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request correlation id, if any.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(requestIDKey).(string); ok {
		return value
	}
	return ""
}

// WithChargePoint stores the charge point identity on the context.
func WithChargePoint(ctx context.Context, identity string) context.Context {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, chargePointKey, identity)
}

// ChargePointFromContext returns the charge point identity, if any.
func ChargePointFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if value, ok := ctx.Value(chargePointKey).(string); ok {
		return value
	}
	return ""
}

// WithConnector stores the connector id on the context.
func WithConnector(ctx context.Context, connectorID int) context.Context {
	if connectorID < 0 {
		return ctx
	}
	return context.WithValue(ctx, connectorKey, connectorID)
}

// ConnectorFromContext returns the connector id and whether it was set.
func ConnectorFromContext(ctx context.Context) (int, bool) {
	if ctx == nil {
		return 0, false
	}
	value, ok := ctx.Value(connectorKey).(int)
	return value, ok
}
