package socketlock

import "go.uber.org/fx"

var Module = fx.Module("socketlock",
	fx.Provide(NewTable),
)
