package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

type UpsertRequest struct {
	TenantID    snowflake.ID
	Source      string
	ShopDomain  string
	AccessToken string
	Scopes      string
}

type SyncCounts struct {
	Products  int
	Orders    int
	Inventory int
}

type Service interface {
	// Upsert creates or refreshes the binding keyed by shop domain.
	// One tenant has at most one connection per shop domain.
	Upsert(ctx context.Context, req UpsertRequest) (Connection, error)
	GetByShopDomain(ctx context.Context, shopDomain string) (Connection, error)
	GetForTenant(ctx context.Context, tenantID snowflake.ID, shopDomain string) (Connection, error)
	ListByTenant(ctx context.Context, tenantID snowflake.ID) ([]Connection, error)

	MarkSyncing(ctx context.Context, id snowflake.ID) error
	MarkSynced(ctx context.Context, id snowflake.ID, counts SyncCounts) error
	MarkError(ctx context.Context, id snowflake.ID, cause string) error

	// RecordSignatureStrike increments the webhook HMAC failure
	// counter and returns true when the strike limit flipped the
	// connection to error.
	RecordSignatureStrike(ctx context.Context, shopDomain string) (bool, error)
	ClearSignatureStrikes(ctx context.Context, id snowflake.ID) error
}

var (
	ErrInvalidShopDomain = errors.New("invalid_shop_domain")
	ErrInvalidToken      = errors.New("invalid_token")
	ErrNotFound          = errors.New("not_found")
	ErrShopTaken         = errors.New("shop_domain_taken")
)
