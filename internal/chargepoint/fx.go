package chargepoint

import (
	"github.com/voltgrid/voltgrid/internal/chargepoint/repository"
	"github.com/voltgrid/voltgrid/internal/chargepoint/service"
	"go.uber.org/fx"
)

var Module = fx.Module("chargepoint.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
