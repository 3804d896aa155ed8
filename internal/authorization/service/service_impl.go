package service

import (
	"strings"
	"time"

	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/authorization/domain"
	"github.com/voltgrid/voltgrid/internal/cache"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/ocpp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const verdictTTL = 30 * time.Second

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository

	verdicts cache.Cache[string, domain.Info]
}

func NewService(p ServiceParam) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("authorization.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,

		verdicts: cache.NewTTLCache[string, domain.Info](),
	}
}

// Authorize resolves an id tag to Accepted/Blocked/Expired/Invalid.
// Unknown tags resolve to Invalid rather than an error: charge points are
// untrusted and must always get a terminal verdict.
func (s *Service) Authorize(ctx context.Context, idTag string) (domain.Info, error) {
	idTag = strings.TrimSpace(idTag)
	if idTag == "" {
		return domain.Info{}, domain.ErrInvalidIDTag
	}

	if verdict, ok := s.verdicts.Get(idTag); ok {
		return verdict, nil
	}

	token, err := s.repo.FindByIDTag(ctx, s.db, idTag)
	if err != nil {
		return domain.Info{}, err
	}

	verdict := s.resolve(idTag, token)
	// Only stable verdicts are cached; an Expired outcome depends on the
	// clock and must be re-evaluated.
	if verdict.Status != ocpp.AuthorizationExpired {
		s.verdicts.Set(idTag, verdict, verdictTTL)
	}
	return verdict, nil
}

func (s *Service) resolve(idTag string, token *domain.AuthToken) domain.Info {
	if token == nil {
		return domain.Info{IDTag: idTag, Status: ocpp.AuthorizationInvalid}
	}

	info := domain.Info{
		IDTag:       idTag,
		Status:      token.Status,
		ExpiryDate:  token.ExpiryDate,
		ParentIDTag: token.ParentIDTag,
	}
	if token.Status == ocpp.AuthorizationAccepted &&
		token.ExpiryDate != nil && token.ExpiryDate.Before(s.clock.Now()) {
		info.Status = ocpp.AuthorizationExpired
	}
	return info
}

func (s *Service) Upsert(ctx context.Context, token *domain.AuthToken) error {
	if token == nil || strings.TrimSpace(token.IDTag) == "" {
		return domain.ErrInvalidIDTag
	}
	now := s.clock.Now()
	if token.ID == 0 {
		token.ID = s.genID.Generate()
		token.CreatedAt = now
	}
	token.UpdatedAt = now
	if err := s.repo.Upsert(ctx, s.db, token); err != nil {
		return err
	}
	s.verdicts.Delete(token.IDTag)
	return nil
}
