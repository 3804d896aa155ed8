package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	FindByIDTag(ctx context.Context, db *gorm.DB, idTag string) (*AuthToken, error)
	Upsert(ctx context.Context, db *gorm.DB, token *AuthToken) error
}
