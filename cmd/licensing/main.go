package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/flowlytix/subscription-server/internal/clock"
	"github.com/flowlytix/subscription-server/internal/config"
	"github.com/flowlytix/subscription-server/internal/logger"
	"github.com/flowlytix/subscription-server/internal/migration"
	"github.com/flowlytix/subscription-server/internal/observability"
	"github.com/flowlytix/subscription-server/internal/scheduler"
	"github.com/flowlytix/subscription-server/internal/server"
	"github.com/flowlytix/subscription-server/internal/token"
	"github.com/flowlytix/subscription-server/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		token.Module,
		migration.Module,
		observability.Module,

		// HTTP surface plus the domain modules it serves
		server.Module,

		// Background jobs
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
