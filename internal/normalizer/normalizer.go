package normalizer

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/apperr"
	commercedomain "github.com/observalabs/mirador/internal/commerce/domain"
	"github.com/observalabs/mirador/internal/ingestion"
	"github.com/observalabs/mirador/internal/jobqueue"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"github.com/observalabs/mirador/internal/observability/metrics"
	"github.com/observalabs/mirador/internal/sourceref"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RecomputeKey identifies one derived-state rebuild; the affected set
// is deduplicated before any job is enqueued.
type RecomputeKey struct {
	Kind     string // legislator | tenant_analysis
	EntityID snowflake.ID
	Period   int
}

// Event is one detected state transition destined for the feed queue.
type Event struct {
	Kind     string
	EntityID snowflake.ID
	TenantID *snowflake.ID
}

// Result carries the batch counters back to the ingestion run.
type Result struct {
	Processed int
	Errored   int

	affected map[RecomputeKey]struct{}
	events   []Event
}

func newResult() *Result {
	return &Result{affected: make(map[RecomputeKey]struct{})}
}

func (r *Result) touch(key RecomputeKey) {
	r.affected[key] = struct{}{}
}

func (r *Result) emit(event Event) {
	r.events = append(r.events, event)
}

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Queue     *jobqueue.Queue
	SourceRef *sourceref.Service
	Runs      *ingestion.Service
	Commerce  commercedomain.Repository
	Legis     legisdomain.Repository
	Metrics   *metrics.Metrics `optional:"true"`
}

// Service parses raw payloads, upserts them into the relational
// model and diffs to detect new entities and transitions. A payload
// that fails structural validation is rejected whole: no partial
// upsert.
type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	queue     *jobqueue.Queue
	sourceRef *sourceref.Service
	runs      *ingestion.Service
	commerce  commercedomain.Repository
	legis     legisdomain.Repository
	metrics   *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("normalizer"),
		genID:     p.GenID,
		queue:     p.Queue,
		sourceRef: p.SourceRef,
		runs:      p.Runs,
		commerce:  p.Commerce,
		legis:     p.Legis,
		metrics:   p.Metrics,
	}
}

// Normalize loads the stored blob for the source ref, dispatches on
// data type and enqueues the deduplicated follow-up jobs. On a schema
// error the source ref is marked and the error is returned
// non-retryable.
func (s *Service) Normalize(ctx context.Context, payload jobqueue.NormalizePayload) (*Result, error) {
	refID, err := snowflake.ParseString(payload.SourceRefID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSourceSchema, "malformed source ref id", err)
	}
	ref, err := s.sourceRef.GetByID(ctx, refID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, "source ref lookup failed", err)
	}
	body, err := s.sourceRef.ReadBlob(ctx, ref)
	if err != nil {
		return nil, err
	}

	var tenantID *snowflake.ID
	if payload.TenantID != "" {
		parsed, perr := snowflake.ParseString(payload.TenantID)
		if perr == nil && parsed != 0 {
			tenantID = &parsed
		}
	}

	result, err := s.Apply(ctx, ref.DataType, tenantID, ref.ID, body)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindSourceSchema {
			if merr := s.sourceRef.MarkError(ctx, ref.ID); merr != nil {
				s.log.Error("marking source ref failed", zap.Error(merr))
			}
		}
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.RecordsUpserted.WithLabelValues(ref.DataType).Add(float64(result.Processed))
	}
	if err := s.EnqueueFollowUps(ctx, ref.ID, result); err != nil {
		return result, err
	}
	return result, nil
}

// Apply parses and upserts one payload. Exposed separately so the
// inline OAuth sync can run it synchronously under one ingestion run.
func (s *Service) Apply(ctx context.Context, dataType string, tenantID *snowflake.ID, refID snowflake.ID, body []byte) (*Result, error) {
	switch {
	case strings.HasPrefix(dataType, "shopify_"):
		if tenantID == nil {
			return nil, apperr.New(apperr.KindSourceSchema, "commerce payload without tenant")
		}
		return s.applyCommerce(ctx, dataType, *tenantID, refID, body)
	case strings.HasPrefix(dataType, "legis_"):
		return s.applyLegislative(ctx, dataType, refID, body)
	default:
		return nil, apperr.New(apperr.KindSourceSchema, "unknown data type "+dataType)
	}
}

// EnqueueFollowUps is the end-of-batch step: one Recompute job per
// distinct affected entity, one feed job per detected transition.
func (s *Service) EnqueueFollowUps(ctx context.Context, refID snowflake.ID, result *Result) error {
	for key := range result.affected {
		payload := jobqueue.RecomputePayload{
			Kind:     key.Kind,
			EntityID: key.EntityID.String(),
			Period:   key.Period,
		}
		if _, err := s.queue.Enqueue(ctx, jobqueue.QueueMetrics, "metrics:recompute", payload); err != nil {
			return err
		}
	}
	for _, event := range result.events {
		payload := jobqueue.FeedPayload{
			EventKind:   event.Kind,
			EntityID:    event.EntityID.String(),
			SourceRefID: refID.String(),
		}
		if event.TenantID != nil {
			payload.TenantID = event.TenantID.String()
		}
		if _, err := s.queue.Enqueue(ctx, jobqueue.QueueFeed, "feed:emit", payload); err != nil {
			return err
		}
	}
	return nil
}

var Module = fx.Module("normalizer",
	fx.Provide(New),
)
