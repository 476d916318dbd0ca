package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/analysis"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/config"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/internal/legmetrics"
	obslogger "github.com/observalabs/mirador/internal/observability/logger"
	obsmetrics "github.com/observalabs/mirador/internal/observability/metrics"
	"github.com/observalabs/mirador/internal/pipeline"
	"github.com/observalabs/mirador/internal/ratelimit"
	"github.com/observalabs/mirador/internal/scheduler"
	tenantdomain "github.com/observalabs/mirador/internal/tenant/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger, metrics *obsmetrics.Metrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(log))
	r.Use(obsmetrics.GinMiddleware(metrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock

	tenantSvc     tenantdomain.Service
	connectionSvc connectiondomain.Service
	feedSvc       feeddomain.Service
	legisRepo     legisdomain.Repository
	runs          *ingestion.Service
	queue         *jobqueue.Queue
	scheduler     *scheduler.Scheduler
	workers       *pipeline.Workers
	shopify       *shopify.Client
	analysisSvc   *analysis.Engine
	metricsSvc    *legmetrics.Engine
	syncLimiter   *ratelimit.SyncLimiter
}

type ServerParams struct {
	fx.In

	Gin   *gin.Engine
	Cfg   config.Config
	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock

	TenantSvc     tenantdomain.Service
	ConnectionSvc connectiondomain.Service
	FeedSvc       feeddomain.Service
	LegisRepo     legisdomain.Repository
	Runs          *ingestion.Service
	Queue         *jobqueue.Queue
	Scheduler     *scheduler.Scheduler
	Workers       *pipeline.Workers
	Shopify       *shopify.Client
	AnalysisSvc   *analysis.Engine
	MetricsSvc    *legmetrics.Engine
	SyncLimiter   *ratelimit.SyncLimiter
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		db:            p.DB,
		log:           p.Log.Named("server"),
		genID:         p.GenID,
		clock:         p.Clock,
		tenantSvc:     p.TenantSvc,
		connectionSvc: p.ConnectionSvc,
		feedSvc:       p.FeedSvc,
		legisRepo:     p.LegisRepo,
		runs:          p.Runs,
		queue:         p.Queue,
		scheduler:     p.Scheduler,
		workers:       p.Workers,
		shopify:       p.Shopify,
		analysisSvc:   p.AnalysisSvc,
		metricsSvc:    p.MetricsSvc,
		syncLimiter:   p.SyncLimiter,
	}

	s.registerOAuthRoutes()
	s.registerAPIRoutes()
	s.registerInternalRoutes()

	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOAuthRoutes() {
	s.engine.GET("/connect", s.Connect)
	s.engine.GET("/callback", s.Callback)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1")

	api.POST("/auth/identity", s.AuthIdentity)

	api.GET("/legislators", s.ListLegislators)
	api.GET("/legislators/:id", s.GetLegislator)
	api.GET("/legislators/:id/metrics", s.GetLegislatorMetrics)
	api.GET("/legislators/:id/activity", s.GetLegislatorActivity)

	api.GET("/bills", s.ListBills)
	api.GET("/bills/:id", s.GetBill)

	api.GET("/feed", s.ListFeed)
	api.GET("/feed/:id", s.GetFeedPost)

	api.POST("/sync", s.Sync)
	api.POST("/analyze", s.Analyze)
	api.POST("/reindex", s.Reindex)

	api.POST("/webhooks/shopify", s.ShopifyWebhook)

	api.GET("/runs", s.ListRuns)
	api.GET("/queue/stats", s.QueueStats)
	api.GET("/queue/dead", s.QueueDeadLetters)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal")
	internal.POST("/cron/:schedule", s.CronAuthRequired(), s.TriggerSchedule)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("port", cfg.Port))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
