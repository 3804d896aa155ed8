package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/voltgrid/voltgrid/internal/authorization"
	"github.com/voltgrid/voltgrid/internal/availability"
	"github.com/voltgrid/voltgrid/internal/backoffice"
	"github.com/voltgrid/voltgrid/internal/chargepoint"
	"github.com/voltgrid/voltgrid/internal/clock"
	"github.com/voltgrid/voltgrid/internal/config"
	"github.com/voltgrid/voltgrid/internal/events"
	"github.com/voltgrid/voltgrid/internal/migration"
	"github.com/voltgrid/voltgrid/internal/observability"
	"github.com/voltgrid/voltgrid/internal/ratelimit"
	"github.com/voltgrid/voltgrid/internal/router"
	"github.com/voltgrid/voltgrid/internal/router/processors"
	"github.com/voltgrid/voltgrid/internal/scheduler"
	"github.com/voltgrid/voltgrid/internal/server"
	"github.com/voltgrid/voltgrid/internal/session"
	"github.com/voltgrid/voltgrid/internal/socketlock"
	"github.com/voltgrid/voltgrid/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure.
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		events.Module,
		socketlock.Module,
		ratelimit.Module,

		// Protocol domains.
		authorization.Module,
		chargepoint.Module,
		backoffice.Module,
		session.Module,
		availability.Module,
		router.Module,
		processors.Module,

		// Surfaces.
		server.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
