package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/waplink/internal/clock"
	"github.com/smallbiznis/waplink/internal/config"
	"github.com/smallbiznis/waplink/internal/locks"
	"github.com/smallbiznis/waplink/internal/logger"
	"github.com/smallbiznis/waplink/internal/metrics"
	"github.com/smallbiznis/waplink/internal/migration"
	"github.com/smallbiznis/waplink/internal/poller"
	"github.com/smallbiznis/waplink/internal/provider"
	"github.com/smallbiznis/waplink/internal/quota"
	"github.com/smallbiznis/waplink/internal/server"
	"github.com/smallbiznis/waplink/internal/session"
	"github.com/smallbiznis/waplink/internal/settings"
	"github.com/smallbiznis/waplink/internal/tenant"
	"github.com/smallbiznis/waplink/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		locks.Module,

		// Functional Domains
		provider.Module,
		settings.Module,
		tenant.Module,
		quota.Module,
		session.Module,

		server.Module,
		poller.Module,
		migration.Module,
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
