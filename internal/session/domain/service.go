package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	authdomain "github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// Service owns the charge-session lifecycle. It exclusively mutates
// ChargeSession and SampledValue rows; every mutating operation runs inside
// one database transaction so a partial failure leaves no orphaned state.
type Service interface {
	// Start authorizes the tag and creates the session atomically. A
	// non-accepted verdict returns an *AuthorizationError and persists
	// nothing. The back-office handshake happens after commit; until it
	// succeeds the session's transaction id stays 0.
	Start(ctx context.Context, req StartRequest) (*StartResult, error)

	// Stop closes the incomplete session addressed by transaction or
	// session id, synthesizes the Transaction.End reading and merges any
	// caller-supplied transaction data. The stop is durable locally even
	// when the downstream post fails.
	Stop(ctx context.Context, req StopRequest) (*StopResult, error)

	// MergeReadings ingests a meter-value batch idempotently. Batches for
	// a socket whose suppression guard is held are dropped.
	MergeReadings(ctx context.Context, batch ReadingBatch) error

	// GetByID returns the session or nil.
	GetByID(ctx context.Context, id snowflake.ID) (*ChargeSession, error)

	// Readings returns the persisted readings of a session ordered by
	// timestamp then identity.
	Readings(ctx context.Context, sessionID snowflake.ID) ([]SampledValue, error)

	// PostOfflineSessions retries the back-office handshake for sessions
	// missing a transaction id or a posted timestamp.
	PostOfflineSessions(ctx context.Context, batchSize int) error

	// CloseStaleSessions closes sessions that look abandoned under the
	// current charging policy.
	CloseStaleSessions(ctx context.Context, batchSize int) error

	// PushPeriodicReadings re-posts recent periodic readings of active
	// sessions to the back office.
	PushPeriodicReadings(ctx context.Context, batchSize int) error

	// PurgePostedSessions deletes sessions posted longer ago than the
	// retention window, readings included.
	PurgePostedSessions(ctx context.Context) (int64, error)
}

type StartRequest struct {
	IDTag         string
	ChargePointID snowflake.ID
	ConnectorID   int
	MeterStart    int64
	Timestamp     *time.Time
}

type StartResult struct {
	Session *ChargeSession
	Info    authdomain.Info
}

type StopRequest struct {
	IDTag         string
	TransactionID int64
	SessionID     snowflake.ID
	MeterStop     int64
	Timestamp     *time.Time
	Reason        ocpp.Reason
	Data          []ocpp.MeterValue
}

type StopResult struct {
	Session *ChargeSession
	Info    *authdomain.Info
}

type ReadingBatch struct {
	ChargePointID snowflake.ID
	ConnectorID   int
	TransactionID *int64
	Values        []ocpp.MeterValue
}

var (
	ErrSessionNotFound = errors.New("session_not_found")
	ErrSessionComplete = errors.New("session_already_complete")
	ErrInvalidRequest  = errors.New("invalid_session_request")
)

// AuthorizationError is a non-accepted verdict on a start or stop attempt.
// It is user-facing and never auto-retried.
type AuthorizationError struct {
	Info authdomain.Info
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("authorization_%s", e.Info.Status)
}

// NewAuthorizationError wraps a verdict for the given tag.
func NewAuthorizationError(idTag string, status ocpp.AuthorizationStatus) *AuthorizationError {
	return &AuthorizationError{Info: authdomain.Info{IDTag: idTag, Status: status}}
}
