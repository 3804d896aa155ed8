package authorization

import (
	"github.com/voltgrid/voltgrid/internal/authorization/repository"
	"github.com/voltgrid/voltgrid/internal/authorization/service"
	"go.uber.org/fx"
)

var Module = fx.Module("authorization.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
