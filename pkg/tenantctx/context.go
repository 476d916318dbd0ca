package tenantctx

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type keyType string

const tenantIDKey keyType = "tenant_id"

// WithTenantID returns a context carrying the tenant scope for all
// downstream reads and writes.
func WithTenantID(ctx context.Context, id snowflake.ID) context.Context {
	return context.WithValue(ctx, tenantIDKey, id)
}

func TenantID(ctx context.Context) (snowflake.ID, bool) {
	id, ok := ctx.Value(tenantIDKey).(snowflake.ID)
	return id, ok
}

const systemScopeKey keyType = "system_scope"

// WithSystemScope marks a context as system-initiated: queue workers,
// provider webhooks and the OAuth handshake, which legitimately read
// across tenants. The tenant guard skips these; everything else on a
// tenant-owned table must carry the tenant predicate.
func WithSystemScope(ctx context.Context) context.Context {
	return context.WithValue(ctx, systemScopeKey, true)
}

func IsSystemScope(ctx context.Context) bool {
	ok, _ := ctx.Value(systemScopeKey).(bool)
	return ok
}
