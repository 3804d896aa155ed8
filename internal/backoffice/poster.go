package backoffice

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// StartNotice announces a locally created session to the back office.
type StartNotice struct {
	SessionID   snowflake.ID `json:"session_id"`
	Identity    string       `json:"identity"`
	ConnectorID int          `json:"connector_id"`
	IDTag       string       `json:"id_tag"`
	MeterStart  int64        `json:"meter_start"`
	Timestamp   time.Time    `json:"timestamp"`
}

// StartAck carries the transaction id the back office assigned.
type StartAck struct {
	TransactionID int64          `json:"transaction_id"`
	IdTagInfo     ocpp.IdTagInfo `json:"id_tag_info"`
}

// StopNotice reports a completed session.
type StopNotice struct {
	SessionID     snowflake.ID `json:"session_id"`
	TransactionID int64        `json:"transaction_id"`
	Identity      string       `json:"identity"`
	IDTag         string       `json:"id_tag,omitempty"`
	MeterStop     int64        `json:"meter_stop"`
	Timestamp     time.Time    `json:"timestamp"`
	Reason        ocpp.Reason  `json:"reason,omitempty"`
}

// MeterNotice forwards periodic readings of an active session.
type MeterNotice struct {
	TransactionID int64             `json:"transaction_id"`
	Identity      string            `json:"identity"`
	ConnectorID   int               `json:"connector_id"`
	Values        []ocpp.MeterValue `json:"values"`
}

// Poster synchronizes session lifecycle events with the back-office
// controller. A post failure never rolls back the local transition; the
// offline recovery job retries it.
type Poster interface {
	PostStart(ctx context.Context, notice StartNotice) (*StartAck, error)
	PostStop(ctx context.Context, notice StopNotice) error
	PostMeterValues(ctx context.Context, notice MeterNotice) error
}
