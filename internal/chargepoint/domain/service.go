package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

type Service interface {
	// Register handles a boot notification: first contact creates the
	// charge point with the configured initial registration status,
	// re-registration merges changed vendor/firmware/serial fields.
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)

	// Heartbeat touches last-seen and returns the server time.
	Heartbeat(ctx context.Context, identity string) (time.Time, error)

	// UpdateConnectorStatus records a status notification. Connector 0
	// fans out to every real connector.
	UpdateConnectorStatus(ctx context.Context, update StatusUpdate) error

	// ReconcileConnectors aligns the connector rows with the reported
	// connector count in one transaction: create missing, delete excess.
	ReconcileConnectors(ctx context.Context, chargePointID snowflake.ID, connectorCount int) error

	GetByIdentity(ctx context.Context, identity string) (*ChargePoint, error)
	GetByID(ctx context.Context, id snowflake.ID) (*ChargePoint, error)
	ListConnectors(ctx context.Context, chargePointID snowflake.ID) ([]Connector, error)
	ListAllConnectors(ctx context.Context) ([]Connector, error)
}

type RegisterRequest struct {
	Identity string
	Boot     ocpp.BootNotificationReq
}

type RegisterResult struct {
	ChargePoint       *ChargePoint
	Status            ocpp.RegistrationStatus
	HeartbeatInterval time.Duration
	Created           bool
}

type StatusUpdate struct {
	Identity     string
	Notification ocpp.StatusNotificationReq
}

var (
	ErrInvalidIdentity    = errors.New("invalid_charge_point_identity")
	ErrUnknownChargePoint = errors.New("unknown_charge_point")
	ErrInvalidConnector   = errors.New("invalid_connector")
)
