package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/observalabs/mirador/internal/apperr"
	"github.com/observalabs/mirador/internal/observability/metrics"
	"github.com/observalabs/mirador/pkg/tenantctx"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	keyPrefix = "mirador:jobs:"
	jobTTL    = 24 * time.Hour
)

// Soft per-job deadlines. Expiry cancels the handler context; the
// handler stops cooperatively and the attempt counts as failed.
var queueDeadlines = map[QueueName]time.Duration{
	QueueIngest:    5 * time.Minute,
	QueueNormalize: 30 * time.Second,
	QueueMetrics:   60 * time.Second,
	QueueFeed:      60 * time.Second,
}

var queueConcurrency = map[QueueName]int{
	QueueIngest:    2,
	QueueNormalize: 4,
	QueueMetrics:   4,
	QueueFeed:      4,
}

// Handler processes one job; returning an error triggers the retry
// policy.
type Handler func(ctx context.Context, job *Job) error

// Queue is the durable FIFO job broker. Jobs live as JSON values
// keyed by id; each named queue has a pending list, a processing list
// and a dead-letter list.
type Queue struct {
	client  *redis.Client
	log     *zap.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	handlers map[QueueName]map[string]Handler
	running  bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

type Params struct {
	fx.In

	Client  *redis.Client
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

func New(p Params) *Queue {
	return &Queue{
		client:   p.Client,
		log:      p.Log.Named("jobqueue"),
		metrics:  p.Metrics,
		handlers: make(map[QueueName]map[string]Handler),
		stopCh:   make(chan struct{}),
	}
}

func pendingKey(q QueueName) string    { return keyPrefix + string(q) + ":pending" }
func processingKey(q QueueName) string { return keyPrefix + string(q) + ":processing" }
func deadKey(q QueueName) string       { return keyPrefix + string(q) + ":dead" }
func completedKey(q QueueName) string  { return keyPrefix + string(q) + ":completed" }
func jobKey(id string) string          { return keyPrefix + "job:" + id }

// Ping verifies broker connectivity; the scheduler refuses to start
// without it.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Register binds a handler to (queue, job name). Must be called
// before Start.
func (q *Queue) Register(queue QueueName, name string, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers[queue] == nil {
		q.handlers[queue] = make(map[string]Handler)
	}
	q.handlers[queue][name] = handler
}

// Enqueue appends a job to the named queue.
func (q *Queue) Enqueue(ctx context.Context, queue QueueName, name string, payload any, opts ...Options) (*Job, error) {
	var options Options
	if len(opts) > 0 {
		options = opts[0]
	}
	options = options.withDefaults()

	payloadMap, err := toMap(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.NewString(),
		Queue:       queue,
		Name:        name,
		Payload:     payloadMap,
		Status:      JobStatusPending,
		MaxAttempts: options.Attempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("marshal job: %w", err)
	}

	pipe := q.client.Pipeline()
	pipe.Set(ctx, jobKey(job.ID), data, jobTTL)
	pipe.LPush(ctx, pendingKey(queue), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, apperr.Wrap(apperr.KindTransientIO, "enqueue failed", err)
	}

	q.log.Debug("job enqueued",
		zap.String("queue", string(queue)),
		zap.String("job", name),
		zap.String("id", job.ID),
	)
	return job, nil
}

// Start launches the per-queue worker pools.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	for _, queue := range Queues() {
		workers := queueConcurrency[queue]
		for i := 0; i < workers; i++ {
			q.wg.Add(1)
			go q.worker(queue)
		}
	}
	q.wg.Add(1)
	go q.stuckSweeper(10*time.Minute, time.Minute)
	q.log.Info("queue workers started")
}

func (q *Queue) Stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.running {
		return
	}
	q.running = false
	close(q.stopCh)
	q.wg.Wait()
	q.log.Info("queue workers stopped")
}

func (q *Queue) worker(queue QueueName) {
	defer q.wg.Done()
	// Workers fan across tenants; the tenant guard admits them via
	// the explicit system scope.
	ctx := tenantctx.WithSystemScope(context.Background())
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		job, err := q.dequeue(ctx, queue)
		if err != nil {
			if err != redis.Nil {
				q.log.Error("dequeue failed", zap.String("queue", string(queue)), zap.Error(err))
				time.Sleep(time.Second)
			}
			continue
		}
		if job != nil {
			q.process(ctx, job)
		}
	}
}

// dequeue moves one job id from pending to processing atomically and
// loads its body.
func (q *Queue) dequeue(ctx context.Context, queue QueueName) (*Job, error) {
	id, err := q.client.BRPopLPush(ctx, pendingKey(queue), processingKey(queue), time.Second).Result()
	if err != nil {
		return nil, err
	}

	data, err := q.client.Get(ctx, jobKey(id)).Result()
	if err != nil {
		q.client.LRem(ctx, processingKey(queue), 1, id)
		return nil, fmt.Errorf("job body missing for %s", id)
	}
	var job Job
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		q.client.LRem(ctx, processingKey(queue), 1, id)
		return nil, fmt.Errorf("unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (q *Queue) process(ctx context.Context, job *Job) {
	q.mu.Lock()
	handler := q.handlers[job.Queue][job.Name]
	q.mu.Unlock()

	log := q.log.With(
		zap.String("queue", string(job.Queue)),
		zap.String("job", job.Name),
		zap.String("id", job.ID),
		zap.Int("attempt", job.Attempts+1),
	)

	if handler == nil {
		log.Error("no handler registered")
		q.moveToDead(ctx, job, "no handler registered")
		return
	}

	now := time.Now().UTC()
	job.Status = JobStatusProcessing
	job.Attempts++
	job.ProcessedAt = &now
	job.UpdatedAt = now
	q.save(ctx, job)

	deadline := queueDeadlines[job.Queue]
	if deadline <= 0 {
		deadline = time.Minute
	}
	jobCtx, cancel := context.WithTimeout(ctx, deadline)
	start := time.Now()
	err := handler(jobCtx, job)
	cancel()

	if q.metrics != nil {
		q.metrics.JobDuration.WithLabelValues(string(job.Queue), job.Name).
			Observe(time.Since(start).Seconds())
	}

	if err == nil {
		q.complete(ctx, job)
		return
	}

	log.Warn("job failed", zap.Error(err))
	job.ErrorMsg = err.Error()

	retryable := apperr.IsRetryable(err) || jobCtx.Err() != nil
	if retryable && job.Attempts < job.MaxAttempts {
		q.retry(ctx, job)
		return
	}
	q.moveToDead(ctx, job, err.Error())
}

func (q *Queue) complete(ctx context.Context, job *Job) {
	job.Status = JobStatusCompleted
	job.UpdatedAt = time.Now().UTC()
	if q.metrics != nil {
		q.metrics.JobsProcessed.WithLabelValues(string(job.Queue), "completed").Inc()
	}

	pipe := q.client.Pipeline()
	pipe.LRem(ctx, processingKey(job.Queue), 1, job.ID)
	pipe.Del(ctx, jobKey(job.ID))
	pipe.LPush(ctx, completedKey(job.Queue), job.Name+":"+job.ID)
	pipe.LTrim(ctx, completedKey(job.Queue), 0, int64(Options{}.withDefaults().RemoveOnComplete)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("completion bookkeeping failed", zap.Error(err))
	}
}

// retry re-enqueues with exponential backoff: seed * 2^(attempt-1)
// with jitter, seeded in the 30–60s band.
func (q *Queue) retry(ctx context.Context, job *Job) {
	job.Status = JobStatusRetrying
	job.UpdatedAt = time.Now().UTC()
	q.save(ctx, job)
	q.client.LRem(ctx, processingKey(job.Queue), 1, job.ID)

	if q.metrics != nil {
		q.metrics.JobsRetried.WithLabelValues(string(job.Queue)).Inc()
	}

	seed := 30*time.Second + time.Duration(rand.Int63n(int64(30*time.Second)))
	delay := seed << (job.Attempts - 1)

	id := job.ID
	queue := job.Queue
	time.AfterFunc(delay, func() {
		if err := q.client.LPush(context.Background(), pendingKey(queue), id).Err(); err != nil {
			q.log.Error("retry requeue failed", zap.String("id", id), zap.Error(err))
		}
	})
}

// moveToDead routes an exhausted or non-retryable job to the
// dead-letter area for manual inspection.
func (q *Queue) moveToDead(ctx context.Context, job *Job, cause string) {
	job.Status = JobStatusDead
	job.ErrorMsg = cause
	job.UpdatedAt = time.Now().UTC()

	if q.metrics != nil {
		q.metrics.JobsProcessed.WithLabelValues(string(job.Queue), "dead").Inc()
		q.metrics.JobsDeadLetter.WithLabelValues(string(job.Queue)).Inc()
	}

	data, err := json.Marshal(job)
	if err != nil {
		q.log.Error("marshal dead job", zap.Error(err))
		return
	}
	pipe := q.client.Pipeline()
	pipe.LRem(ctx, processingKey(job.Queue), 1, job.ID)
	pipe.Del(ctx, jobKey(job.ID))
	pipe.LPush(ctx, deadKey(job.Queue), data)
	pipe.LTrim(ctx, deadKey(job.Queue), 0, int64(Options{}.withDefaults().RemoveOnFail)-1)
	if _, err := pipe.Exec(ctx); err != nil {
		q.log.Error("dead-letter bookkeeping failed", zap.Error(err))
	}
}

func (q *Queue) save(ctx context.Context, job *Job) {
	data, err := json.Marshal(job)
	if err != nil {
		q.log.Error("marshal job", zap.String("id", job.ID), zap.Error(err))
		return
	}
	if err := q.client.Set(ctx, jobKey(job.ID), data, jobTTL).Err(); err != nil {
		q.log.Error("save job", zap.String("id", job.ID), zap.Error(err))
	}
}

// stuckSweeper requeues jobs parked in processing longer than maxAge,
// recovering from worker crashes.
func (q *Queue) stuckSweeper(maxAge, interval time.Duration) {
	defer q.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	ctx := context.Background()

	for {
		select {
		case <-q.stopCh:
			return
		case <-ticker.C:
			for _, queue := range Queues() {
				q.sweepQueue(ctx, queue, maxAge)
			}
		}
	}
}

func (q *Queue) sweepQueue(ctx context.Context, queue QueueName, maxAge time.Duration) {
	ids, err := q.client.LRange(ctx, processingKey(queue), 0, -1).Result()
	if err != nil {
		q.log.Error("sweeper scan failed", zap.String("queue", string(queue)), zap.Error(err))
		return
	}
	now := time.Now().UTC()
	for _, id := range ids {
		data, err := q.client.Get(ctx, jobKey(id)).Result()
		if err != nil {
			q.client.LRem(ctx, processingKey(queue), 1, id)
			continue
		}
		var job Job
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			q.client.LRem(ctx, processingKey(queue), 1, id)
			continue
		}
		started := job.ProcessedAt
		if started == nil {
			started = &job.UpdatedAt
		}
		if now.Sub(*started) > maxAge {
			q.log.Warn("recovering stuck job",
				zap.String("queue", string(queue)),
				zap.String("id", id),
			)
			job.Status = JobStatusPending
			job.UpdatedAt = now
			q.save(ctx, &job)
			q.client.LRem(ctx, processingKey(queue), 1, id)
			q.client.RPush(ctx, pendingKey(queue), id)
		}
	}
}

// Stats reports pending/processing/dead depth per queue.
func (q *Queue) Stats(ctx context.Context) (map[QueueName]map[string]int64, error) {
	out := make(map[QueueName]map[string]int64, len(Queues()))
	for _, queue := range Queues() {
		pending, err := q.client.LLen(ctx, pendingKey(queue)).Result()
		if err != nil {
			return nil, err
		}
		processing, err := q.client.LLen(ctx, processingKey(queue)).Result()
		if err != nil {
			return nil, err
		}
		dead, err := q.client.LLen(ctx, deadKey(queue)).Result()
		if err != nil {
			return nil, err
		}
		out[queue] = map[string]int64{
			"pending":    pending,
			"processing": processing,
			"dead":       dead,
		}
	}
	return out, nil
}

// DeadLetters returns the parked jobs of one queue, newest first.
func (q *Queue) DeadLetters(ctx context.Context, queue QueueName) ([]Job, error) {
	raw, err := q.client.LRange(ctx, deadKey(queue), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raw))
	for _, item := range raw {
		var job Job
		if err := json.Unmarshal([]byte(item), &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

var Module = fx.Module("jobqueue",
	fx.Provide(New),
)
