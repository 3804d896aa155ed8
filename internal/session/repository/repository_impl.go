package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"github.com/voltgrid/voltgrid/internal/session/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, session *domain.ChargeSession) error {
	return db.WithContext(ctx).Create(session).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, id snowflake.ID, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.ChargeSession{}).
		Where("id = ?", id).
		Updates(fields).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.ChargeSession, error) {
	var session domain.ChargeSession
	err := db.WithContext(ctx).Where("id = ?", id).First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repo) FindByTransactionID(ctx context.Context, db *gorm.DB, transactionID int64) (*domain.ChargeSession, error) {
	var session domain.ChargeSession
	err := db.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created_at DESC").
		First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repo) FindIncomplete(ctx context.Context, db *gorm.DB, chargePointID snowflake.ID, connectorID int) (*domain.ChargeSession, error) {
	var session domain.ChargeSession
	query := db.WithContext(ctx).
		Where("charge_point_id = ? AND connector_id = ? AND ended_at IS NULL", chargePointID, connectorID)
	if db.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	err := query.First(&session).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repo) ListIncomplete(ctx context.Context, db *gorm.DB, limit int) ([]domain.ChargeSession, error) {
	var sessions []domain.ChargeSession
	err := db.WithContext(ctx).
		Where("ended_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) ListUnposted(ctx context.Context, db *gorm.DB, limit int) ([]domain.ChargeSession, error) {
	var sessions []domain.ChargeSession
	err := db.WithContext(ctx).
		Where("transaction_id = 0 OR (ended_at IS NOT NULL AND posted_at IS NULL)").
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) ListActiveConfirmed(ctx context.Context, db *gorm.DB, limit int) ([]domain.ChargeSession, error) {
	var sessions []domain.ChargeSession
	err := db.WithContext(ctx).
		Where("ended_at IS NULL AND transaction_id <> 0").
		Order("created_at ASC").
		Limit(limit).
		Find(&sessions).Error
	return sessions, err
}

func (r *repo) DeletePostedBefore(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	var deleted int64
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []snowflake.ID
		if err := tx.Model(&domain.ChargeSession{}).
			Where("posted_at IS NOT NULL AND posted_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("session_id IN ?", ids).Delete(&domain.SampledValue{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&domain.ChargeSession{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

func (r *repo) InsertReadings(ctx context.Context, db *gorm.DB, readings []domain.SampledValue) error {
	if len(readings) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&readings).Error
}

func (r *repo) ListReadings(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]domain.SampledValue, error) {
	var readings []domain.SampledValue
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp ASC, context ASC, measurand ASC, phase ASC, location ASC").
		Find(&readings).Error
	return readings, err
}

func (r *repo) ListRecentEnergyReadings(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, n int) ([]domain.SampledValue, error) {
	var readings []domain.SampledValue
	err := db.WithContext(ctx).
		Where("session_id = ? AND measurand = ?", sessionID, ocpp.MeasurandEnergyActiveImportRegister).
		Order("timestamp DESC").
		Limit(n).
		Find(&readings).Error
	return readings, err
}

func (r *repo) LatestReadingTime(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) (*time.Time, error) {
	var reading domain.SampledValue
	err := db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("timestamp DESC").
		First(&reading).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	ts := reading.Timestamp
	return &ts, nil
}

func (r *repo) ListReadingsSince(ctx context.Context, db *gorm.DB, sessionID snowflake.ID, since time.Time) ([]domain.SampledValue, error) {
	var readings []domain.SampledValue
	err := db.WithContext(ctx).
		Where("session_id = ? AND timestamp > ?", sessionID, since).
		Order("timestamp ASC").
		Find(&readings).Error
	return readings, err
}
