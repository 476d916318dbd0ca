package main

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/adapters/ckan"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/analysis"
	"github.com/observalabs/mirador/internal/blobstore"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/commerce"
	"github.com/observalabs/mirador/internal/config"
	"github.com/observalabs/mirador/internal/connection"
	"github.com/observalabs/mirador/internal/feed"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
	"github.com/observalabs/mirador/internal/legislative"
	"github.com/observalabs/mirador/internal/legmetrics"
	"github.com/observalabs/mirador/internal/migration"
	"github.com/observalabs/mirador/internal/normalizer"
	"github.com/observalabs/mirador/internal/observability"
	"github.com/observalabs/mirador/internal/pipeline"
	"github.com/observalabs/mirador/internal/ratelimit"
	"github.com/observalabs/mirador/internal/redisconn"
	"github.com/observalabs/mirador/internal/scheduler"
	"github.com/observalabs/mirador/internal/server"
	"github.com/observalabs/mirador/internal/sourceref"
	"github.com/observalabs/mirador/internal/tenant"
	"github.com/observalabs/mirador/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		db.Module,
		redisconn.Module,
		blobstore.Module,
		migration.Module,

		// Pipeline stages
		jobqueue.Module,
		scheduler.Module,
		sourceref.Module,
		ingestion.Module,
		shopify.Module,
		ckan.Module,
		normalizer.Module,
		pipeline.Module,

		// Domains
		tenant.Module,
		connection.Module,
		commerce.Module,
		legislative.Module,
		legmetrics.Module,
		analysis.Module,
		feed.Module,
		ratelimit.Module,

		// API surface
		server.Module,

		fx.Invoke(StartScheduler),
	)
	app.Run()
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func StartScheduler(lc fx.Lifecycle, s *scheduler.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return s.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			return nil
		},
	})
}
