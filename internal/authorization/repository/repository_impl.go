package repository

import (
	"context"
	"errors"

	"github.com/voltgrid/voltgrid/internal/authorization/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByIDTag(ctx context.Context, db *gorm.DB, idTag string) (*domain.AuthToken, error) {
	var token domain.AuthToken
	err := db.WithContext(ctx).Where("id_tag = ?", idTag).First(&token).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &token, nil
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, token *domain.AuthToken) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id_tag"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "expiry_date", "parent_id_tag", "updated_at",
		}),
	}).Create(token).Error
}
