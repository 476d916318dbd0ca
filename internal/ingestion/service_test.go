package ingestion

import (
	"fmt"
	"strings"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (*Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Run{}))

	node, err := snowflake.NewNode(8)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC))

	return New(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fake}), fake
}

func TestZeroRecordRunCompletes(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	run, err := svc.Start(ctx, nil, "ckan", "legis_bills")
	require.NoError(t, err)
	assert.Equal(t, RunRunning, run.Status)

	fake.Advance(2 * time.Second)
	require.NoError(t, svc.Complete(ctx, &run, Counters{}))

	reloaded, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunCompleted, reloaded.Status)
	assert.Zero(t, reloaded.RecordsProcessed)
	require.NotNil(t, reloaded.CompletedAt)
	assert.True(t, !reloaded.CompletedAt.Before(reloaded.StartedAt))
}

func TestFailedRunKeepsCountersAndDetail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	run, err := svc.Start(ctx, nil, "shopify", "shopify_orders")
	require.NoError(t, err)

	require.NoError(t, svc.Fail(ctx, &run, Counters{Processed: 3, Errored: 2}, errors.New("schema mismatch")))

	reloaded, err := svc.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, RunFailed, reloaded.Status)
	assert.Equal(t, 3, reloaded.RecordsProcessed)
	assert.Equal(t, 2, reloaded.RecordsErrored)
	assert.Equal(t, "schema mismatch", reloaded.ErrorDetail["error"])
}

func TestListFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, _ := svc.Start(ctx, nil, "ckan", "legis_bills")
	require.NoError(t, svc.Complete(ctx, &first, Counters{Processed: 5}))
	second, _ := svc.Start(ctx, nil, "shopify", "shopify_products")
	require.NoError(t, svc.Fail(ctx, &second, Counters{}, errors.New("boom")))

	runs, pageInfo, err := svc.List(ctx, ListFilter{Source: "ckan"}, pagination.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "ckan", runs[0].Source)
	assert.EqualValues(t, 1, pageInfo.Total)

	runs, _, err = svc.List(ctx, ListFilter{Status: string(RunFailed)}, pagination.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "shopify", runs[0].Source)
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
