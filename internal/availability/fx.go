package availability

import (
	"go.uber.org/fx"
)

var Module = fx.Module("availability",
	fx.Provide(
		fx.Annotate(NewRegistryBackend, fx.ResultTags(`group:"availability.backends"`)),
		NewService,
	),
)
