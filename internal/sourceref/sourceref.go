package sourceref

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusStored Status = "stored"
	StatusError  Status = "error"
)

// SourceRef is the append-only audit record of one raw fetch. Every
// raw entity carries a back-reference to the SourceRef that produced
// its latest version; the SourceRef carries a back-reference to the
// ingestion run.
type SourceRef struct {
	ID             snowflake.ID  `gorm:"primaryKey" json:"id"`
	TenantID       *snowflake.ID `gorm:"index" json:"tenant_id,omitempty"`
	SourceKey      string        `gorm:"not null;index:idx_source_refs_key" json:"source_key"`
	SourceType     string        `gorm:"not null" json:"source_type"`
	DataType       string        `gorm:"not null" json:"data_type"`
	Checksum       string        `gorm:"not null;index:idx_source_refs_key" json:"checksum"`
	BlobLocation   string        `gorm:"not null" json:"blob_location"`
	Status         Status        `gorm:"not null;default:stored" json:"status"`
	IngestionRunID snowflake.ID  `gorm:"not null;index" json:"ingestion_run_id"`
	FetchedAt      time.Time     `gorm:"not null" json:"fetched_at"`
}

func (SourceRef) TableName() string { return "source_refs" }

// Checksum is SHA-256 over the payload bytes exactly as given; no
// re-serialization is applied.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
