package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type PostType string

// The event taxonomy is fixed.
const (
	TypeBillCreated      PostType = "BILL_CREATED"
	TypeBillMovement     PostType = "BILL_MOVEMENT"
	TypeVoteResult       PostType = "VOTE_RESULT"
	TypeAttendanceRecord PostType = "ATTENDANCE_RECORD"
	TypeAnalysisReady    PostType = "ANALYSIS_READY"
	TypeConnectionEvent  PostType = "CONNECTION_EVENT"
)

// FeedPost is one entry of the chronological activity feed. A nil
// tenant id makes the post tenant-global (the legislative vertical);
// commerce posts are tenant-scoped.
type FeedPost struct {
	ID       snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID *snowflake.ID `gorm:"index" json:"tenant_id,omitempty"`

	Type  PostType `gorm:"not null;index" json:"type"`
	Title string   `gorm:"not null" json:"title"`
	Body  string   `json:"body,omitempty"`

	Payload datatypes.JSONMap `gorm:"type:jsonb" json:"payload,omitempty"`

	EntityKind string        `json:"entity_kind,omitempty"`
	EntityID   *snowflake.ID `gorm:"index" json:"entity_id,omitempty"`

	// Comma-separated; block and province land here as tags so the
	// feed can be filtered without joining the entity tables.
	Tags string `gorm:"index" json:"tags,omitempty"`

	SourceRefID   *snowflake.ID `json:"source_ref_id,omitempty"`
	AutoGenerated bool          `gorm:"not null;default:true" json:"auto_generated"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
}
