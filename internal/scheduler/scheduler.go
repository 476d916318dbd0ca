package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/jobqueue"
	"github.com/robfig/cron/v3"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const lastFireKeyPrefix = "mirador:scheduler:last_fire:"

// Scheduler emits periodic jobs into the queue from cron-expression
// schedule entries.
type Scheduler struct {
	queue   *jobqueue.Queue
	client  *redis.Client
	log     *zap.Logger
	clock   clock.Clock
	entries []Entry
	specs   map[string]cron.Schedule

	stopCh chan struct{}
	doneCh chan struct{}
}

type Params struct {
	fx.In

	Queue   *jobqueue.Queue
	Client  *redis.Client
	Log     *zap.Logger
	Clock   clock.Clock
	Entries []Entry
}

func New(p Params) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	specs := make(map[string]cron.Schedule, len(p.Entries))
	for _, e := range p.Entries {
		spec, err := parser.Parse(e.Cron)
		if err != nil {
			return nil, err
		}
		specs[e.Name] = spec
	}
	return &Scheduler{
		queue:   p.Queue,
		client:  p.Client,
		log:     p.Log.Named("scheduler"),
		clock:   p.Clock,
		entries: p.Entries,
		specs:   specs,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start verifies queue connectivity and refuses to run without it,
// then launches the fire loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.queue.Ping(ctx); err != nil {
		return fmt.Errorf("scheduler: queue broker unreachable: %w", err)
	}
	s.catchUp(ctx)
	go s.run()
	s.log.Info("scheduler started", zap.Int("schedules", len(s.entries)))
	return nil
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// catchUp collapses fires missed while the process was down into a
// single run per schedule.
func (s *Scheduler) catchUp(ctx context.Context) {
	now := s.clock.Now()
	for _, e := range s.entries {
		lastRaw, err := s.client.Get(ctx, lastFireKeyPrefix+e.Name).Result()
		if err != nil {
			continue
		}
		last, err := time.Parse(time.RFC3339, lastRaw)
		if err != nil {
			continue
		}
		if s.specs[e.Name].Next(last).Before(now) {
			s.log.Info("collapsing missed fires", zap.String("schedule", e.Name))
			s.fire(ctx, e)
		}
	}
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	ctx := context.Background()

	next := make(map[string]time.Time, len(s.entries))
	now := s.clock.Now()
	for _, e := range s.entries {
		next[e.Name] = s.specs[e.Name].Next(now)
	}

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			now := s.clock.Now()
			for _, e := range s.entries {
				if now.Before(next[e.Name]) {
					continue
				}
				s.fire(ctx, e)
				next[e.Name] = s.specs[e.Name].Next(now)
			}
		}
	}
}

// Trigger fires one schedule by name; used by the authenticated cron
// endpoint.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	for _, e := range s.entries {
		if e.Name == name {
			s.fire(ctx, e)
			return nil
		}
	}
	return fmt.Errorf("unknown schedule %q", name)
}

func (s *Scheduler) Entries() []Entry {
	return s.entries
}

func (s *Scheduler) fire(ctx context.Context, e Entry) {
	payload := map[string]any{"scheduled": true}
	for k, v := range e.Args {
		payload[k] = v
	}
	if _, err := s.queue.Enqueue(ctx, jobqueue.QueueName(e.Queue), e.Job, payload); err != nil {
		s.log.Error("schedule fire failed",
			zap.String("schedule", e.Name),
			zap.Error(err),
		)
		return
	}
	s.client.Set(ctx, lastFireKeyPrefix+e.Name, s.clock.Now().Format(time.RFC3339), 0)
	s.log.Info("schedule fired", zap.String("schedule", e.Name), zap.String("job", e.Job))
}

var Module = fx.Module("scheduler",
	fx.Provide(LoadEntries),
	fx.Provide(New),
)
