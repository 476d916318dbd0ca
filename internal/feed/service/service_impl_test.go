package service

import (
	"fmt"
	"strings"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/clock"
	"github.com/observalabs/mirador/internal/feed/domain"
	"github.com/observalabs/mirador/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *clock.FakeClock) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&domain.FeedPost{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	svc := New(Params{DB: db, Log: zap.NewNop(), GenID: node, Clock: fake})
	return svc, fake
}

func TestPublishAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	post, err := svc.Publish(ctx, domain.FeedPost{
		Type:  domain.TypeBillCreated,
		Title: "B-1",
		Body:  "Presented by Ana Perez.",
		Tags:  "block:Bloque A,legislator:L-1",
	})
	require.NoError(t, err)
	require.NotZero(t, post.ID)

	loaded, err := svc.GetByID(ctx, post.ID.String())
	require.NoError(t, err)
	assert.Equal(t, "B-1", loaded.Title)
}

func TestPublishRequiresTitle(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.Publish(context.Background(), domain.FeedPost{Type: domain.TypeBillCreated})
	assert.ErrorIs(t, err, domain.ErrInvalidTitle)
}

func TestListFiltersByTypeAndTags(t *testing.T) {
	svc, fake := newTestService(t)
	ctx := context.Background()

	_, err := svc.Publish(ctx, domain.FeedPost{
		Type: domain.TypeBillCreated, Title: "B-1", Tags: "block:A,legislator:L-1",
	})
	require.NoError(t, err)
	fake.Advance(time.Minute)
	_, err = svc.Publish(ctx, domain.FeedPost{
		Type: domain.TypeBillMovement, Title: "B-1 moved", Tags: "block:A,legislator:L-1",
	})
	require.NoError(t, err)
	fake.Advance(time.Minute)
	_, err = svc.Publish(ctx, domain.FeedPost{
		Type: domain.TypeVoteResult, Title: "Votación", Tags: "block:B",
	})
	require.NoError(t, err)

	page := pagination.Pagination{Page: 1, Limit: 10}

	resp, err := svc.List(ctx, domain.ListFilter{Type: string(domain.TypeBillMovement)}, page)
	require.NoError(t, err)
	require.Len(t, resp.Posts, 1)
	assert.Equal(t, "B-1 moved", resp.Posts[0].Title)

	resp, err = svc.List(ctx, domain.ListFilter{Block: "A"}, page)
	require.NoError(t, err)
	assert.Len(t, resp.Posts, 2)

	resp, err = svc.List(ctx, domain.ListFilter{Tags: []string{"legislator:L-1"}}, page)
	require.NoError(t, err)
	assert.Len(t, resp.Posts, 2)

	// Newest first.
	resp, err = svc.List(ctx, domain.ListFilter{}, page)
	require.NoError(t, err)
	require.Len(t, resp.Posts, 3)
	assert.Equal(t, "Votación", resp.Posts[0].Title)
}

func TestTenantScopedListSeesGlobalPosts(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tenantID := snowflake.ID(50)
	otherID := snowflake.ID(51)

	_, err := svc.Publish(ctx, domain.FeedPost{Type: domain.TypeBillCreated, Title: "global"})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, domain.FeedPost{TenantID: &tenantID, Type: domain.TypeAnalysisReady, Title: "mine"})
	require.NoError(t, err)
	_, err = svc.Publish(ctx, domain.FeedPost{TenantID: &otherID, Type: domain.TypeAnalysisReady, Title: "theirs"})
	require.NoError(t, err)

	resp, err := svc.List(ctx, domain.ListFilter{TenantID: &tenantID}, pagination.Pagination{Page: 1, Limit: 10})
	require.NoError(t, err)
	require.Len(t, resp.Posts, 2)
	titles := []string{resp.Posts[0].Title, resp.Posts[1].Title}
	assert.ElementsMatch(t, []string{"global", "mine"}, titles)
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
