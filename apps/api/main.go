package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/migration"
	"github.com/smallbiznis/viotraix/internal/observability"
	"github.com/smallbiznis/viotraix/internal/server"
	"github.com/smallbiznis/viotraix/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		// Routes, domain services and providers.
		server.Module,
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
