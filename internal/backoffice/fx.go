package backoffice

import (
	"github.com/voltgrid/voltgrid/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("backoffice",
	fx.Provide(NewPoster),
)

// NewPoster selects the HTTP client when a back-office URL is configured
// and a local-confirm poster otherwise.
func NewPoster(cfg config.Config, log *zap.Logger) Poster {
	if cfg.BackOfficeURL == "" {
		return NewNoopPoster()
	}
	return NewHTTPPoster(cfg.BackOfficeURL, cfg.BackOfficeAPIKey, cfg.RoundTripTimeout, log)
}
