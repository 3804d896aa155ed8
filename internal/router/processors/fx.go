package processors

import (
	"github.com/voltgrid/voltgrid/internal/router"
	"go.uber.org/fx"
)

var Module = fx.Module("router.processors",
	fx.Provide(NewCore),
	fx.Invoke(func(r *router.Router, core *Core) {
		r.Register(core)
	}),
)
