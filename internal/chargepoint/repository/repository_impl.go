package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/chargepoint/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, cp *domain.ChargePoint) error {
	return db.WithContext(ctx).Create(cp).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.ChargePoint{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) FindByIdentity(ctx context.Context, db *gorm.DB, identity string) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	err := db.WithContext(ctx).Where("identity = ?", identity).First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ChargePoint, error) {
	var cp domain.ChargePoint
	err := db.WithContext(ctx).Where("id = ?", id).First(&cp).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cp, nil
}

func (r *repo) UpsertConnector(ctx context.Context, db *gorm.DB, connector *domain.Connector) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "charge_point_id"}, {Name: "connector_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "error_code", "info", "vendor_id", "vendor_error_code",
			"status_timestamp", "updated_at",
		}),
	}).Create(connector).Error
}

func (r *repo) ListConnectors(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID) ([]domain.Connector, error) {
	var connectors []domain.Connector
	err := db.WithContext(ctx).
		Where("charge_point_id = ? AND connector_id > 0", chargePointID).
		Order("connector_id ASC").
		Find(&connectors).Error
	return connectors, err
}

func (r *repo) ListAllConnectors(ctx context.Context, db *gorm.DB) ([]domain.Connector, error) {
	var connectors []domain.Connector
	err := db.WithContext(ctx).
		Where("connector_id > 0").
		Order("charge_point_id ASC, connector_id ASC").
		Find(&connectors).Error
	return connectors, err
}

func (r *repo) DeleteConnectorsAbove(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID, maxConnectorID int) error {
	return db.WithContext(ctx).
		Where("charge_point_id = ? AND connector_id > ?", chargePointID, maxConnectorID).
		Delete(&domain.Connector{}).Error
}
