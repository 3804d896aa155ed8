package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// ChargeSession is one authorize-charge-stop cycle on a connector. The
// transaction id stays 0 until the back office confirms the start; posted_at
// stays null until the stop has been synchronized downstream.
type ChargeSession struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey;autoIncrement:false"`
	IDTag         string       `json:"id_tag" gorm:"column:id_tag;type:text;not null;index"`
	ChargePointID snowflake.ID `json:"charge_point_id" gorm:"not null;index:ix_charge_sessions_socket"`
	ConnectorID   int          `json:"connector_id" gorm:"not null;index:ix_charge_sessions_socket"`
	TransactionID int64        `json:"transaction_id" gorm:"not null;default:0;index"`
	MeterStart    int64        `json:"meter_start" gorm:"not null"`
	MeterStop     *int64       `json:"meter_stop"`
	StopReason    ocpp.Reason  `json:"stop_reason" gorm:"type:text"`
	StartedAt     time.Time    `json:"started_at" gorm:"not null"`
	EndedAt       *time.Time   `json:"ended_at" gorm:"index"`
	PostedAt      *time.Time   `json:"posted_at" gorm:"index"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (ChargeSession) TableName() string { return "charge_sessions" }

// Complete reports whether the session has ended.
func (s *ChargeSession) Complete() bool { return s.EndedAt != nil }

// SampledValue is one persisted meter reading. Its primary key is the dedup
// identity the reading merge computes set differences over.
type SampledValue struct {
	SessionID snowflake.ID        `json:"session_id" gorm:"primaryKey;autoIncrement:false"`
	Timestamp time.Time           `json:"timestamp" gorm:"primaryKey"`
	Context   ocpp.ReadingContext `json:"context" gorm:"primaryKey;type:text"`
	Measurand ocpp.Measurand      `json:"measurand" gorm:"primaryKey;type:text"`
	Phase     ocpp.Phase          `json:"phase" gorm:"primaryKey;type:text;default:''"`
	Location  ocpp.Location       `json:"location" gorm:"primaryKey;type:text;default:''"`
	Value     string              `json:"value" gorm:"type:text;not null"`
	Unit      ocpp.UnitOfMeasure  `json:"unit" gorm:"type:text"`
	Format    ocpp.ValueFormat    `json:"format" gorm:"type:text"`
	CreatedAt time.Time           `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (SampledValue) TableName() string { return "sampled_values" }

// Identity is the dedup key of one reading.
type Identity struct {
	SessionID snowflake.ID
	Timestamp int64
	Context   ocpp.ReadingContext
	Measurand ocpp.Measurand
	Phase     ocpp.Phase
	Location  ocpp.Location
}

// IdentityKey returns the dedup key of the reading.
func (v SampledValue) IdentityKey() Identity {
	return Identity{
		SessionID: v.SessionID,
		Timestamp: v.Timestamp.UTC().UnixNano(),
		Context:   v.Context,
		Measurand: v.Measurand,
		Phase:     v.Phase,
		Location:  v.Location,
	}
}
