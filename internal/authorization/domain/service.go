package domain

import (
	"context"
	"errors"
)

// Service resolves identity tags to authorization verdicts.
type Service interface {
	// Authorize never returns an error for a non-accepted tag; the verdict
	// carries the status. Errors are reserved for lookup failures.
	Authorize(ctx context.Context, idTag string) (Info, error)
	Upsert(ctx context.Context, token *AuthToken) error
}

var (
	ErrInvalidIDTag = errors.New("invalid_id_tag")
)
