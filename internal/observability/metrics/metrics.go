package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes application-level instruments.
type Metrics struct {
	framesDispatched metric.Int64Counter
	dispatchLatency  metric.Float64Histogram
	sessionsStarted  metric.Int64Counter
	sessionsEnded    metric.Int64Counter
	readingsMerged   metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "voltgrid"
	}
	meter := provider.Meter(name)

	framesDispatched, err := meter.Int64Counter("voltgrid_frames_dispatched_total")
	if err != nil {
		return nil, err
	}
	dispatchLatency, err := meter.Float64Histogram("voltgrid_dispatch_latency_seconds")
	if err != nil {
		return nil, err
	}
	sessionsStarted, err := meter.Int64Counter("voltgrid_sessions_started_total")
	if err != nil {
		return nil, err
	}
	sessionsEnded, err := meter.Int64Counter("voltgrid_sessions_ended_total")
	if err != nil {
		return nil, err
	}
	readingsMerged, err := meter.Int64Counter("voltgrid_readings_merged_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("voltgrid_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("voltgrid_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		framesDispatched: framesDispatched,
		dispatchLatency:  dispatchLatency,
		sessionsStarted:  sessionsStarted,
		sessionsEnded:    sessionsEnded,
		readingsMerged:   readingsMerged,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// ObserveDispatch records one routed frame with its outcome and latency.
func (m *Metrics) ObserveDispatch(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	ctx := context.Background()
	attrs := FilterAttributes(
		attribute.String("action", strings.TrimSpace(action)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.framesDispatched.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.dispatchLatency.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attrs...))
}

// RecordSessionStarted increments started session counts.
func (m *Metrics) RecordSessionStarted(ctx context.Context) {
	if m == nil {
		return
	}
	m.sessionsStarted.Add(ctx, 1)
}

// RecordSessionEnded increments ended session counts by stop reason.
func (m *Metrics) RecordSessionEnded(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.sessionsEnded.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordReadingsMerged increments merged sampled value counts.
func (m *Metrics) RecordReadingsMerged(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.readingsMerged.Add(ctx, int64(count))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, identity, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("charge_point", strings.TrimSpace(identity)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
	)
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, identity, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("charge_point", strings.TrimSpace(identity)),
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"action":       {},
	"outcome":      {},
	"charge_point": {},
	"endpoint":     {},
	"status_code":  {},
	"reason":       {},
	"measurand":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
