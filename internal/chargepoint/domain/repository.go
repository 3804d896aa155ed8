package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, cp *ChargePoint) error
	Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error
	FindByIdentity(ctx context.Context, db *gorm.DB, identity string) (*ChargePoint, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*ChargePoint, error)

	UpsertConnector(ctx context.Context, db *gorm.DB, connector *Connector) error
	ListConnectors(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID) ([]Connector, error)
	ListAllConnectors(ctx context.Context, db *gorm.DB) ([]Connector, error)
	DeleteConnectorsAbove(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID, maxConnectorID int) error
}
