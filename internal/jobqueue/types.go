package jobqueue

import (
	"encoding/json"
	"time"
)

// QueueName identifies one of the durable named queues.
type QueueName string

const (
	QueueIngest    QueueName = "ingest"
	QueueNormalize QueueName = "normalize"
	QueueMetrics   QueueName = "metrics"
	QueueFeed      QueueName = "feed"
)

func Queues() []QueueName {
	return []QueueName{QueueIngest, QueueNormalize, QueueMetrics, QueueFeed}
}

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusRetrying   JobStatus = "retrying"
	JobStatusDead       JobStatus = "dead"
)

// Job is one unit of queued work. Handlers must be idempotent: the
// upsert key (tenant, external_id) protects correctness when the same
// job runs twice.
type Job struct {
	ID          string         `json:"id"`
	Queue       QueueName      `json:"queue"`
	Name        string         `json:"name"`
	Payload     map[string]any `json:"payload"`
	Status      JobStatus      `json:"status"`
	Attempts    int            `json:"attempts"`
	MaxAttempts int            `json:"max_attempts"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	ErrorMsg    string         `json:"error_msg,omitempty"`
}

// Options carry retry and retention settings for an enqueue. Only
// Attempts is applied per job: the retry delay uses a random 30-60s
// seed (BackoffSeed is not read), and list trimming always uses the
// default RemoveOnComplete and RemoveOnFail.
type Options struct {
	Attempts         int
	BackoffSeed      time.Duration
	RemoveOnComplete int
	RemoveOnFail     int
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.BackoffSeed <= 0 {
		o.BackoffSeed = 45 * time.Second
	}
	if o.RemoveOnComplete <= 0 {
		o.RemoveOnComplete = 100
	}
	if o.RemoveOnFail <= 0 {
		o.RemoveOnFail = 50
	}
	return o
}

// FetchPayload asks an ingest worker to pull one data type for one
// connection.
type FetchPayload struct {
	Source     string `json:"source"`
	DataType   string `json:"data_type"`
	TenantID   string `json:"tenant_id,omitempty"`
	ShopDomain string `json:"shop_domain,omitempty"`
	SourceKey  string `json:"source_key,omitempty"`
}

// NormalizePayload names the stored raw fetch to parse and upsert.
type NormalizePayload struct {
	SourceRefID    string `json:"source_ref_id"`
	IngestionRunID string `json:"ingestion_run_id"`
	DataType       string `json:"data_type"`
	TenantID       string `json:"tenant_id,omitempty"`
}

// RecomputePayload names the entity whose derived state must be
// rebuilt.
type RecomputePayload struct {
	Kind     string `json:"kind"` // legislator | tenant_analysis
	EntityID string `json:"entity_id"`
	TenantID string `json:"tenant_id,omitempty"`
	Period   int    `json:"period,omitempty"`
}

// FeedPayload names a detected state transition to publish.
type FeedPayload struct {
	EventKind   string `json:"event_kind"`
	EntityID    string `json:"entity_id"`
	TenantID    string `json:"tenant_id,omitempty"`
	SourceRefID string `json:"source_ref_id,omitempty"`
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodePayload unmarshals a job payload into its typed form.
func DecodePayload[T any](job *Job) (T, error) {
	var out T
	raw, err := json.Marshal(job.Payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}
