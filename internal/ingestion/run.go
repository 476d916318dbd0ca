package ingestion

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Run is one invocation of one source adapter. Rows are append-only;
// running → {completed, failed} is terminal.
type Run struct {
	ID       snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID *snowflake.ID `gorm:"index" json:"tenant_id,omitempty"`
	Source   string        `gorm:"not null;index" json:"source"`
	DataType string        `gorm:"not null" json:"data_type"`
	Status   RunStatus     `gorm:"not null;default:running" json:"status"`

	RecordsProcessed int `gorm:"not null;default:0" json:"records_processed"`
	RecordsSkipped   int `gorm:"not null;default:0" json:"records_skipped"`
	RecordsErrored   int `gorm:"not null;default:0" json:"records_errored"`

	ErrorDetail datatypes.JSONMap `gorm:"type:jsonb" json:"error_detail,omitempty"`

	StartedAt   time.Time  `gorm:"not null" json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Counters struct {
	Processed int
	Skipped   int
	Errored   int
}
