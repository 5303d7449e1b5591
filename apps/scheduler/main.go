package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/viotraix/internal/clock"
	"github.com/smallbiznis/viotraix/internal/config"
	"github.com/smallbiznis/viotraix/internal/observability"
	"github.com/smallbiznis/viotraix/internal/profile"
	"github.com/smallbiznis/viotraix/internal/providers/email"
	"github.com/smallbiznis/viotraix/internal/ratelimit"
	"github.com/smallbiznis/viotraix/internal/reminder"
	"github.com/smallbiznis/viotraix/internal/scheduler"
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

		// Renewal reminder sweep only; no HTTP server.
		profile.Module,
		reminder.Module,
		email.Module,
		ratelimit.Module,
		scheduler.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(2)
	if err != nil {
		panic(err)
	}
	return node
}
