package pipeline

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/adapters/ckan"
	"github.com/observalabs/mirador/internal/adapters/shopify"
	"github.com/observalabs/mirador/internal/analysis"
	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/clock"
	connectiondomain "github.com/observalabs/mirador/internal/connection/domain"
	feeddomain "github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/internal/legmetrics"
	"github.com/observalabs/mirador/internal/normalizer"
	"github.com/observalabs/mirador/internal/sourceref"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Queue       *jobqueue.Queue
	Shopify     *shopify.Client
	CKAN        *ckan.Client
	Connections connectiondomain.Service
	SourceRefs  *sourceref.Service
	Runs        *ingestion.Service
	Normalizer  *normalizer.Service
	Metrics     *legmetrics.Engine
	Analysis    *analysis.Engine
	Feed        feeddomain.Service
	LegisRepo   legisdomain.Repository
}

// Workers owns the queue handlers for the four named queues and the
// inline sync path shared with the OAuth callback.
type Workers struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	queue       *jobqueue.Queue
	shopify     *shopify.Client
	ckan        *ckan.Client
	connections connectiondomain.Service
	sourceRefs  *sourceref.Service
	runs        *ingestion.Service
	normalizer  *normalizer.Service
	metrics     *legmetrics.Engine
	analysis    *analysis.Engine
	feed        feeddomain.Service
	legisRepo   legisdomain.Repository
}

func New(p Params) *Workers {
	return &Workers{
		db:          p.DB,
		log:         p.Log.Named("pipeline"),
		clock:       p.Clock,
		queue:       p.Queue,
		shopify:     p.Shopify,
		ckan:        p.CKAN,
		connections: p.Connections,
		sourceRefs:  p.SourceRefs,
		runs:        p.Runs,
		normalizer:  p.Normalizer,
		metrics:     p.Metrics,
		analysis:    p.Analysis,
		feed:        p.Feed,
		legisRepo:   p.LegisRepo,
	}
}

// Register binds every handler; must run before the queue starts.
func (w *Workers) Register() {
	w.queue.Register(jobqueue.QueueIngest, "ingest:all", w.handleIngestAll)
	w.queue.Register(jobqueue.QueueIngest, "ingest:fetch", w.handleFetch)
	w.queue.Register(jobqueue.QueueNormalize, "normalize:apply", w.handleNormalize)
	w.queue.Register(jobqueue.QueueMetrics, "metrics:recompute", w.handleRecompute)
	w.queue.Register(jobqueue.QueueMetrics, "metrics:recompute-all", w.handleRecomputeAll)
	w.queue.Register(jobqueue.QueueFeed, "feed:emit", w.handleFeedEmit)
}

// handleIngestAll fans the scheduled tick out to one fetch job per
// (connection, data type) plus the public legislative datasets.
func (w *Workers) handleIngestAll(ctx context.Context, job *jobqueue.Job) error {
	var conns []connectiondomain.Connection
	if err := w.db.WithContext(ctx).Find(&conns).Error; err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "listing connections failed", err)
	}
	for _, conn := range conns {
		for _, dataType := range shopify.DataTypes() {
			payload := jobqueue.FetchPayload{
				Source:     "shopify",
				DataType:   dataType,
				TenantID:   conn.TenantID.String(),
				ShopDomain: conn.ShopDomain,
			}
			if _, err := w.queue.Enqueue(ctx, jobqueue.QueueIngest, "ingest:fetch", payload); err != nil {
				return err
			}
		}
	}
	for _, dataType := range ckan.DataTypes() {
		payload := jobqueue.FetchPayload{Source: "ckan", DataType: dataType}
		if _, err := w.queue.Enqueue(ctx, jobqueue.QueueIngest, "ingest:fetch", payload); err != nil {
			return err
		}
	}
	return nil
}

// handleFetch runs one adapter invocation: fetch, checksum dedupe,
// and either skip or hand off to the normalize queue.
func (w *Workers) handleFetch(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.DecodePayload[jobqueue.FetchPayload](job)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "fetch payload malformed", err)
	}

	switch payload.Source {
	case "shopify":
		return w.fetchShopify(ctx, payload)
	case "ckan":
		return w.fetchCKAN(ctx, payload)
	default:
		return apperr.New(apperr.KindSourceSchema, "unknown source "+payload.Source)
	}
}

func (w *Workers) fetchShopify(ctx context.Context, payload jobqueue.FetchPayload) error {
	conn, err := w.connections.GetByShopDomain(ctx, payload.ShopDomain)
	if err != nil {
		return apperr.Wrap(apperr.KindNotFound, "connection missing", err)
	}

	tenantID := conn.TenantID
	run, err := w.runs.Start(ctx, &tenantID, "shopify", payload.DataType)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "run open failed", err)
	}

	raw, err := w.shopify.Fetch(ctx, conn.ShopDomain, conn.AccessToken, payload.DataType)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindAuth {
			_ = w.connections.MarkError(ctx, conn.ID, "token rejected; re-connect required")
		}
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}

	ref, isNew, err := w.sourceRefs.RecordFetch(ctx, sourceref.RecordFetchRequest{
		TenantID:       &tenantID,
		SourceKey:      "shopify:" + conn.ShopDomain + ":" + payload.DataType,
		SourceType:     "shopify",
		DataType:       payload.DataType,
		Payload:        raw.Body,
		IngestionRunID: run.ID,
	})
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	if !isNew {
		// Unchanged payload: the job completes as skipped and no
		// normalize job is enqueued.
		return w.runs.Complete(ctx, &run, ingestion.Counters{Skipped: 1})
	}

	_, err = w.queue.Enqueue(ctx, jobqueue.QueueNormalize, "normalize:apply", jobqueue.NormalizePayload{
		SourceRefID:    ref.ID.String(),
		IngestionRunID: run.ID.String(),
		DataType:       payload.DataType,
		TenantID:       tenantID.String(),
	})
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}

	// A successful fetch clears webhook signature strikes.
	_ = w.connections.ClearSignatureStrikes(ctx, conn.ID)
	return nil
}

func (w *Workers) fetchCKAN(ctx context.Context, payload jobqueue.FetchPayload) error {
	run, err := w.runs.Start(ctx, nil, "ckan", payload.DataType)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "run open failed", err)
	}

	raw, err := w.ckan.Fetch(ctx, payload.DataType)
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}

	ref, isNew, err := w.sourceRefs.RecordFetch(ctx, sourceref.RecordFetchRequest{
		SourceKey:      w.ckan.SourceKey(payload.DataType),
		SourceType:     "ckan",
		DataType:       payload.DataType,
		Payload:        raw.Body,
		IngestionRunID: run.ID,
	})
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	if !isNew {
		return w.runs.Complete(ctx, &run, ingestion.Counters{Skipped: 1})
	}

	_, err = w.queue.Enqueue(ctx, jobqueue.QueueNormalize, "normalize:apply", jobqueue.NormalizePayload{
		SourceRefID:    ref.ID.String(),
		IngestionRunID: run.ID.String(),
		DataType:       payload.DataType,
	})
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	return nil
}

// handleNormalize parses the stored payload, upserts and closes the
// ingestion run with the batch counters.
func (w *Workers) handleNormalize(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.DecodePayload[jobqueue.NormalizePayload](job)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "normalize payload malformed", err)
	}

	runID, err := snowflake.ParseString(payload.IngestionRunID)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "malformed run id", err)
	}
	run, err := w.runs.Get(ctx, runID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransientIO, "run lookup failed", err)
	}

	result, err := w.normalizer.Normalize(ctx, payload)
	if err != nil {
		_ = w.runs.Fail(ctx, &run, ingestion.Counters{}, err)
		return err
	}
	return w.runs.Complete(ctx, &run, ingestion.Counters{
		Processed: result.Processed,
		Errored:   result.Errored,
	})
}

// handleRecompute rebuilds one derived entity.
func (w *Workers) handleRecompute(ctx context.Context, job *jobqueue.Job) error {
	payload, err := jobqueue.DecodePayload[jobqueue.RecomputePayload](job)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "recompute payload malformed", err)
	}
	entityID, err := snowflake.ParseString(payload.EntityID)
	if err != nil {
		return apperr.Wrap(apperr.KindSourceSchema, "malformed entity id", err)
	}

	switch payload.Kind {
	case "legislator":
		_, err := w.metrics.Recompute(ctx, entityID, payload.Period)
		return err
	case "tenant_analysis":
		bundle, err := w.analysis.Run(ctx, entityID, nil, analysis.UserCosts{})
		if err != nil {
			return err
		}
		for _, result := range bundle.Modules {
			if !result.Applicable {
				continue
			}
			feedPayload := jobqueue.FeedPayload{
				EventKind: "ANALYSIS_READY",
				EntityID:  entityID.String(),
				TenantID:  entityID.String(),
			}
			if _, err := w.queue.Enqueue(ctx, jobqueue.QueueFeed, "feed:emit", feedPayload); err != nil {
				return err
			}
			break
		}
		return nil
	default:
		return apperr.New(apperr.KindSourceSchema, "unknown recompute kind "+payload.Kind)
	}
}

func (w *Workers) handleRecomputeAll(ctx context.Context, job *jobqueue.Job) error {
	recomputed, err := w.metrics.RecomputeAll(ctx, 0)
	if err != nil {
		return err
	}
	w.log.Info("metrics recomputed", zap.Int("legislators", recomputed))
	return nil
}

var Module = fx.Module("pipeline",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, w *Workers, queue *jobqueue.Queue) {
		w.Register()
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				queue.Start()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				queue.Stop()
				return nil
			},
		})
	}),
)
