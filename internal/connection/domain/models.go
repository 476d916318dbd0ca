package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type SyncStatus string

const (
	SyncPending SyncStatus = "pending"
	SyncRunning SyncStatus = "syncing"
	SyncSynced  SyncStatus = "synced"
	SyncError   SyncStatus = "error"
)

// CanTransition encodes the connection state machine:
// pending → syncing → synced → {syncing, error}; error → syncing is
// always allowed.
func (s SyncStatus) CanTransition(to SyncStatus) bool {
	switch s {
	case SyncPending:
		return to == SyncRunning
	case SyncRunning:
		return to == SyncSynced || to == SyncError
	case SyncSynced:
		return to == SyncRunning || to == SyncError
	case SyncError:
		return to == SyncRunning
	}
	return false
}

// Connection binds a tenant to one external data source. The shop
// domain is unique across tenants; the access token is a secret and
// never serialized or logged.
type Connection struct {
	ID          snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID    snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	Source      string       `gorm:"not null;default:shopify" json:"source"`
	ShopDomain  string       `gorm:"not null;uniqueIndex" json:"shop_domain"`
	AccessToken string       `gorm:"not null" json:"-"`
	Scopes      string       `json:"scopes"`
	SyncStatus  SyncStatus   `gorm:"not null;default:pending" json:"sync_status"`
	LastSyncAt  *time.Time   `json:"last_sync_at,omitempty"`
	LastError   string       `json:"last_error,omitempty"`

	// Webhook signature strikes; three consecutive failures flip the
	// connection to error until a fetch succeeds.
	SignatureStrikes int `gorm:"not null;default:0" json:"-"`

	ProductsCount int `gorm:"not null;default:0" json:"products_count"`
	OrdersCount   int `gorm:"not null;default:0" json:"orders_count"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

const SignatureStrikeLimit = 3
