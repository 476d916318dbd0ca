package sourceref

import (
	"fmt"
	"strings"
	"context"
	"os"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/blobstore"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&SourceRef{}))

	node, err := snowflake.NewNode(9)
	require.NoError(t, err)

	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Blobs: blobstore.NewLocal(t.TempDir()),
	})
	return svc, fake
}

func TestRecordFetchInsertsAndStoresBlob(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payload := []byte(`{"products":[]}`)
	ref, isNew, err := svc.RecordFetch(ctx, RecordFetchRequest{
		SourceKey:      "shopify:s.myshopify.com:shopify_products",
		SourceType:     "shopify",
		DataType:       "shopify_products",
		Payload:        payload,
		IngestionRunID: 42,
	})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, Checksum(payload), ref.Checksum)
	assert.Equal(t, StatusStored, ref.Status)
	assert.Equal(t, snowflake.ID(42), ref.IngestionRunID)

	stored, err := os.ReadFile(ref.BlobLocation)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestRecordFetchDeduplicatesByChecksum(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	payload := []byte(`{"orders":[{"id":1}]}`)
	req := RecordFetchRequest{
		SourceKey:      "shopify:s.myshopify.com:shopify_orders",
		SourceType:     "shopify",
		DataType:       "shopify_orders",
		Payload:        payload,
		IngestionRunID: 1,
	}

	first, isNew, err := svc.RecordFetch(ctx, req)
	require.NoError(t, err)
	require.True(t, isNew)

	fake.Advance(6 * time.Hour)
	req.IngestionRunID = 2
	second, isNew, err := svc.RecordFetch(ctx, req)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, snowflake.ID(1), second.IngestionRunID)

	var count int64
	require.NoError(t, svc.db.Model(&SourceRef{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordFetchAppendsOnChange(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	req := RecordFetchRequest{
		SourceKey:      "ckan:bills",
		SourceType:     "ckan",
		DataType:       "legis_bills",
		Payload:        []byte(`v1`),
		IngestionRunID: 1,
	}
	first, _, err := svc.RecordFetch(ctx, req)
	require.NoError(t, err)

	fake.Advance(time.Hour)
	req.Payload = []byte(`v2`)
	req.IngestionRunID = 2
	second, isNew, err := svc.RecordFetch(ctx, req)
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, second.FetchedAt.After(first.FetchedAt))
}

func TestMarkError(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	ref, _, err := svc.RecordFetch(ctx, RecordFetchRequest{
		SourceKey:      "ckan:votes",
		SourceType:     "ckan",
		DataType:       "legis_votes",
		Payload:        []byte(`broken`),
		IngestionRunID: 1,
	})
	require.NoError(t, err)

	require.NoError(t, svc.MarkError(ctx, ref.ID))
	reloaded, err := svc.GetByID(ctx, ref.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusError, reloaded.Status)

	// The blob stays for replay.
	body, err := svc.ReadBlob(ctx, reloaded)
	require.NoError(t, err)
	assert.Equal(t, []byte(`broken`), body)
}

func TestChecksumStability(t *testing.T) {
	a := Checksum([]byte("payload"))
	b := Checksum([]byte("payload"))
	c := Checksum([]byte("payload!"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
