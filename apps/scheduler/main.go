package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fiscalsync/internal/audit"
	"github.com/smallbiznis/fiscalsync/internal/certificate"
	"github.com/smallbiznis/fiscalsync/internal/clock"
	"github.com/smallbiznis/fiscalsync/internal/company"
	"github.com/smallbiznis/fiscalsync/internal/config"
	"github.com/smallbiznis/fiscalsync/internal/connector"
	"github.com/smallbiznis/fiscalsync/internal/document"
	"github.com/smallbiznis/fiscalsync/internal/export"
	"github.com/smallbiznis/fiscalsync/internal/keyring"
	"github.com/smallbiznis/fiscalsync/internal/observability"
	"github.com/smallbiznis/fiscalsync/internal/providers"
	"github.com/smallbiznis/fiscalsync/internal/scheduler"
	"github.com/smallbiznis/fiscalsync/internal/storage"
	"github.com/smallbiznis/fiscalsync/internal/sync"
	"github.com/smallbiznis/fiscalsync/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		storage.Module,
		keyring.Module,
		providers.Module,

		// Domain services required by scheduler
		audit.Module,
		company.Module,
		certificate.Module,
		connector.Module,
		document.Module,
		sync.Module,
		export.Module,
		scheduler.Module,

		// the worker binary always ticks
		fx.Decorate(func(cfg config.Config) config.Config {
			cfg.Scheduler.Enabled = true
			return cfg
		}),

		// No server module!
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
