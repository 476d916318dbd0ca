package ingestion

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/observability/metrics"
	"github.com/observalabs/mirador/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	metrics *metrics.Metrics
}

func New(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("ingestion"),
		genID:   p.GenID,
		clock:   p.Clock,
		metrics: p.Metrics,
	}
}

// Start opens a run in status running.
func (s *Service) Start(ctx context.Context, tenantID *snowflake.ID, source, dataType string) (Run, error) {
	run := Run{
		ID:        s.genID.Generate(),
		TenantID:  tenantID,
		Source:    source,
		DataType:  dataType,
		Status:    RunRunning,
		StartedAt: s.clock.Now(),
	}
	if err := s.db.WithContext(ctx).Create(&run).Error; err != nil {
		return Run{}, err
	}
	return run, nil
}

// Complete closes the run. A run with zero records still completes.
func (s *Service) Complete(ctx context.Context, run *Run, counters Counters) error {
	now := s.clock.Now()
	run.Status = RunCompleted
	run.RecordsProcessed = counters.Processed
	run.RecordsSkipped = counters.Skipped
	run.RecordsErrored = counters.Errored
	run.CompletedAt = &now
	if s.metrics != nil {
		s.metrics.IngestionRuns.WithLabelValues(run.Source, string(RunCompleted)).Inc()
	}
	return s.db.WithContext(ctx).Save(run).Error
}

func (s *Service) Fail(ctx context.Context, run *Run, counters Counters, cause error) error {
	now := s.clock.Now()
	run.Status = RunFailed
	run.RecordsProcessed = counters.Processed
	run.RecordsSkipped = counters.Skipped
	run.RecordsErrored = counters.Errored
	run.CompletedAt = &now
	run.ErrorDetail = datatypes.JSONMap{"error": cause.Error()}
	if s.metrics != nil {
		s.metrics.IngestionRuns.WithLabelValues(run.Source, string(RunFailed)).Inc()
	}
	s.log.Warn("ingestion run failed",
		zap.String("source", run.Source),
		zap.String("data_type", run.DataType),
		zap.Error(cause),
	)
	return s.db.WithContext(ctx).Save(run).Error
}

// Get loads one run by id.
func (s *Service) Get(ctx context.Context, id snowflake.ID) (Run, error) {
	var run Run
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if err != nil {
		return Run{}, err
	}
	return run, nil
}

type ListFilter struct {
	Source string
	Status string
}

func (s *Service) List(ctx context.Context, filter ListFilter, page pagination.Pagination) ([]Run, pagination.PageInfo, error) {
	stmt := s.db.WithContext(ctx).Model(&Run{})
	if filter.Source != "" {
		stmt = stmt.Where("source = ?", filter.Source)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}

	var total int64
	if err := stmt.Count(&total).Error; err != nil {
		return nil, pagination.PageInfo{}, err
	}

	var runs []Run
	err := page.Apply(stmt).
		Order("started_at DESC, id DESC").
		Find(&runs).Error
	if err != nil {
		return nil, pagination.PageInfo{}, err
	}
	return runs, pagination.BuildPageInfo(page, total), nil
}

var Module = fx.Module("ingestion",
	fx.Provide(New),
)
