package session

import (
	"github.com/voltgrid/voltgrid/internal/session/repository"
	"github.com/voltgrid/voltgrid/internal/session/service"
	"go.uber.org/fx"
)

var Module = fx.Module("session.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
