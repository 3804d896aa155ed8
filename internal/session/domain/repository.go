package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, session *ChargeSession) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ChargeSession, error)
	FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID int64) (*ChargeSession, error)

	// FindIncomplete returns the open session on a socket, locked for
	// update when the dialect supports it.
	FindIncomplete(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID, connectorID int) (*ChargeSession, error)
	ListIncomplete(ctx context.Context, db *gorm.DB, limit int) ([]ChargeSession, error)

	// ListUnposted returns sessions still owing a back-office handshake:
	// no transaction id yet, or ended but not posted.
	ListUnposted(ctx context.Context, db *gorm.DB, limit int) ([]ChargeSession, error)
	ListActiveConfirmed(ctx context.Context, db *gorm.DB, limit int) ([]ChargeSession, error)
	DeletePostedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error)

	InsertReadings(ctx context.Context, db *gorm.DB, readings []SampledValue) error
	ListReadings(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]SampledValue, error)

	// ListRecentEnergyReadings returns the newest n energy-register
	// readings of a session, newest first.
	ListRecentEnergyReadings(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, n int) ([]SampledValue, error)
	LatestReadingTime(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*time.Time, error)
	ListReadingsSince(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, since time.Time) ([]SampledValue, error)
}
