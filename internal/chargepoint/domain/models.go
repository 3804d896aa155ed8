package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// ChargePoint is a physical charging station with a stable identity.
type ChargePoint struct {
	ID                 snowflake.ID            `json:"id" gorm:"primaryKey;autoIncrement:false"`
	Identity           string                  `json:"identity" gorm:"type:text;not null;uniqueIndex:ux_charge_points_identity"`
	Vendor             string                  `json:"vendor" gorm:"type:text"`
	Model              string                  `json:"model" gorm:"type:text"`
	SerialNumber       string                  `json:"serial_number" gorm:"type:text"`
	BoxSerialNumber    string                  `json:"box_serial_number" gorm:"type:text"`
	FirmwareVersion    string                  `json:"firmware_version" gorm:"type:text"`
	ConnectorCount     int                     `json:"connector_count" gorm:"not null;default:0"`
	RegistrationStatus ocpp.RegistrationStatus `json:"registration_status" gorm:"type:text;not null"`
	Enabled            bool                    `json:"enabled" gorm:"not null;default:true"`
	LastSeenAt         *time.Time              `json:"last_seen_at"`
	CreatedAt          time.Time               `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time               `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (ChargePoint) TableName() string { return "charge_points" }

// Connector is one numbered socket on a charge point. Connector 0 denotes
// the charge point itself; a status addressed to it fans out to every real
// connector.
type Connector struct {
	ChargePointID   snowflake.ID              `json:"charge_point_id" gorm:"primaryKey;autoIncrement:false"`
	ConnectorID     int                       `json:"connector_id" gorm:"primaryKey;autoIncrement:false"`
	Status          ocpp.ChargePointStatus    `json:"status" gorm:"type:text;not null"`
	ErrorCode       ocpp.ChargePointErrorCode `json:"error_code" gorm:"type:text"`
	Info            string                    `json:"info" gorm:"type:text"`
	VendorID        string                    `json:"vendor_id" gorm:"type:text"`
	VendorErrorCode string                    `json:"vendor_error_code" gorm:"type:text"`
	StatusTimestamp time.Time                 `json:"status_timestamp"`
	CreatedAt       time.Time                 `json:"created_at" gorm:"not null"`
	UpdatedAt       time.Time                 `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Connector) TableName() string { return "charge_point_connectors" }
