package service

import (
	"fmt"
	"strings"
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/connection/domain"
	"github.com/observalabs/mirador/internal/connection/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.Connection{}))

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
	return svc, db
}

func TestUpsertCreatesPending(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID:    10,
		ShopDomain:  "S.MyShopify.com",
		AccessToken: "tok",
		Scopes:      "read_products",
	})
	require.NoError(t, err)
	assert.Equal(t, "s.myshopify.com", conn.ShopDomain)
	assert.Equal(t, domain.SyncPending, conn.SyncStatus)
}

func TestUpsertRefreshesTokenForSameTenant(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()

	first, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "tok1",
	})
	require.NoError(t, err)

	second, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "tok2",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, db.Model(&domain.Connection{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	reloaded, err := svc.GetByShopDomain(ctx, "s.myshopify.com")
	require.NoError(t, err)
	assert.Equal(t, "tok2", reloaded.AccessToken)
}

func TestUpsertRejectsForeignShop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "tok",
	})
	require.NoError(t, err)

	_, err = svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 11, ShopDomain: "s.myshopify.com", AccessToken: "tok",
	})
	assert.ErrorIs(t, err, domain.ErrShopTaken)
}

func TestSyncStatusStateMachine(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "tok",
	})
	require.NoError(t, err)

	// pending → synced is not a legal transition; the refusal is
	// silent and the status stays put.
	require.NoError(t, svc.MarkSynced(ctx, conn.ID, domain.SyncCounts{}))
	current, _ := svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncPending, current.SyncStatus)

	require.NoError(t, svc.MarkSyncing(ctx, conn.ID))
	require.NoError(t, svc.MarkSynced(ctx, conn.ID, domain.SyncCounts{Products: 17, Orders: 4}))
	current, _ = svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncSynced, current.SyncStatus)
	assert.Equal(t, 17, current.ProductsCount)
	assert.Equal(t, 4, current.OrdersCount)
	assert.NotNil(t, current.LastSyncAt)

	require.NoError(t, svc.MarkError(ctx, conn.ID, "token revoked"))
	current, _ = svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncError, current.SyncStatus)
	assert.Equal(t, "token revoked", current.LastError)

	// error → syncing is always allowed.
	require.NoError(t, svc.MarkSyncing(ctx, conn.ID))
	current, _ = svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncRunning, current.SyncStatus)
}

func TestThreeSignatureStrikesMarkError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	conn, err := svc.Upsert(ctx, domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "tok",
	})
	require.NoError(t, err)
	require.NoError(t, svc.MarkSyncing(ctx, conn.ID))
	require.NoError(t, svc.MarkSynced(ctx, conn.ID, domain.SyncCounts{}))

	for i := 0; i < domain.SignatureStrikeLimit-1; i++ {
		tripped, serr := svc.RecordSignatureStrike(ctx, conn.ShopDomain)
		require.NoError(t, serr)
		assert.False(t, tripped)
	}
	tripped, err := svc.RecordSignatureStrike(ctx, conn.ShopDomain)
	require.NoError(t, err)
	assert.True(t, tripped)

	current, _ := svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncError, current.SyncStatus)

	// A successful fetch clears the strikes and synced state returns.
	require.NoError(t, svc.MarkSyncing(ctx, conn.ID))
	require.NoError(t, svc.MarkSynced(ctx, conn.ID, domain.SyncCounts{Products: 1}))
	current, _ = svc.GetByShopDomain(ctx, conn.ShopDomain)
	assert.Equal(t, domain.SyncSynced, current.SyncStatus)
}

func TestNormalizeShop(t *testing.T) {
	assert.Equal(t, "s.myshopify.com", normalizeShop(" https://S.myshopify.com/ "))
	assert.Equal(t, "", normalizeShop("bad domain/with spaces"))
	assert.Equal(t, "", normalizeShop(""))
}

func TestTokenNeverSerialized(t *testing.T) {
	svc, _ := newTestService(t)
	conn, err := svc.Upsert(context.Background(), domain.UpsertRequest{
		TenantID: 10, ShopDomain: "s.myshopify.com", AccessToken: "super-secret",
	})
	require.NoError(t, err)

	// The json tag keeps the token out of every API response.
	field, ok := jsonTagFor(conn, "AccessToken")
	require.True(t, ok)
	assert.Equal(t, "-", field)
}

func jsonTagFor(v any, name string) (string, bool) {
	field, ok := reflect.TypeOf(v).FieldByName(name)
	if !ok {
		return "", false
	}
	return field.Tag.Get("json"), true
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
