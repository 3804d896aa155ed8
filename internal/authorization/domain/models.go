package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
)

// AuthToken is a stored identity tag a driver presents to start charging.
type AuthToken struct {
	ID          snowflake.ID             `json:"id" gorm:"primaryKey;autoIncrement:false"`
	IDTag       string                   `json:"id_tag" gorm:"column:id_tag;type:text;not null;uniqueIndex:ux_auth_tokens_id_tag"`
	Status      ocpp.AuthorizationStatus `json:"status" gorm:"type:text;not null"`
	ExpiryDate  *time.Time               `json:"expiry_date"`
	ParentIDTag string                   `json:"parent_id_tag" gorm:"column:parent_id_tag;type:text"`
	CreatedAt   time.Time                `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time                `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (AuthToken) TableName() string { return "auth_tokens" }

// Info is the resolved authorization verdict for an id tag.
type Info struct {
	IDTag       string                   `json:"id_tag"`
	Status      ocpp.AuthorizationStatus `json:"status"`
	ExpiryDate  *time.Time               `json:"expiry_date,omitempty"`
	ParentIDTag string                   `json:"parent_id_tag,omitempty"`
}

// Accepted reports whether the tag may start or stop a transaction.
func (i Info) Accepted() bool { return i.Status == ocpp.AuthorizationAccepted }

// IdTagInfo converts the verdict to its protocol shape.
func (i Info) IdTagInfo() ocpp.IdTagInfo {
	return ocpp.IdTagInfo{
		Status:      i.Status,
		ExpiryDate:  i.ExpiryDate,
		ParentIdTag: i.ParentIDTag,
	}
}
