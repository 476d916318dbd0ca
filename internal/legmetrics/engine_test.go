package legmetrics

import (
	"fmt"
	"strings"
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/clock"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	legisrepo "github.com/observalabs/mirador/internal/legislative/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	engine *Engine
	db     *gorm.DB
	genID  *snowflake.Node
	clock  *clock.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&legisdomain.Legislator{},
		&legisdomain.Bill{},
		&legisdomain.BillMovement{},
		&legisdomain.BillAuthor{},
		&legisdomain.Session{},
		&legisdomain.VoteEvent{},
		&legisdomain.VoteResult{},
		&legisdomain.Attendance{},
		&legisdomain.Commission{},
		&legisdomain.CommissionMembership{},
		&LegislatorMetric{},
	))

	node, err := snowflake.NewNode(7)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC))

	engine := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fake,
		Repo:  legisrepo.Provide(),
	})
	return &fixture{engine: engine, db: db, genID: node, clock: fake}
}

func (f *fixture) legislator(t *testing.T, termStart time.Time) legisdomain.Legislator {
	t.Helper()
	legislator := legisdomain.Legislator{
		ID:          f.genID.Generate(),
		ExternalID:  "leg-" + f.genID.Generate().String(),
		FirstName:   "Ana",
		LastName:    "Perez",
		Block:       "Bloque A",
		Province:    "Buenos Aires",
		Active:      true,
		TermStart:   &termStart,
		SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&legislator).Error)
	return legislator
}

func (f *fixture) bill(t *testing.T, status legisdomain.BillStatus, period int, authorID snowflake.ID, role legisdomain.AuthorRole) legisdomain.Bill {
	t.Helper()
	bill := legisdomain.Bill{
		ID:          f.genID.Generate(),
		ExternalID:  "bill-" + f.genID.Generate().String(),
		Title:       "Proyecto",
		Status:      status,
		Period:      period,
		SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&bill).Error)
	require.NoError(t, f.db.Create(&legisdomain.BillAuthor{
		ID:           f.genID.Generate(),
		BillID:       bill.ID,
		LegislatorID: authorID,
		Role:         role,
	}).Error)
	return bill
}

func TestRecomputeRates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	termStart := time.Date(2024, 12, 10, 0, 0, 0, 0, time.UTC)
	legislator := f.legislator(t, termStart)

	// Three authored bills, one advanced beyond PRESENTED.
	f.bill(t, legisdomain.BillPresented, 2026, legislator.ID, legisdomain.RoleAuthor)
	f.bill(t, legisdomain.BillPresented, 2026, legislator.ID, legisdomain.RoleAuthor)
	f.bill(t, legisdomain.BillInCommittee, 2026, legislator.ID, legisdomain.RoleAuthor)
	f.bill(t, legisdomain.BillPresented, 2026, legislator.ID, legisdomain.RoleCoauthor)

	metric, err := f.engine.Recompute(ctx, legislator.ID, 2026)
	require.NoError(t, err)

	assert.Equal(t, 3, metric.BillsAuthored)
	assert.Equal(t, 1, metric.BillsCosigned)
	assert.Equal(t, 1, metric.BillsWithAdvancement)
	assert.InDelta(t, 0.3333, metric.AdvancementRate, 1e-9)
	assert.GreaterOrEqual(t, metric.MonthsInOffice, 18)
	assert.InDelta(t, float64(3)/float64(metric.MonthsInOffice), metric.NormalizedProductivity, 1e-4)
}

func TestRecomputeZeroDenominators(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legislator := f.legislator(t, time.Date(2026, 6, 20, 0, 0, 0, 0, time.UTC))

	metric, err := f.engine.Recompute(ctx, legislator.ID, 2026)
	require.NoError(t, err)

	// Ratios are 0 when their denominator is 0; months floor at 1.
	assert.Zero(t, metric.AdvancementRate)
	assert.Zero(t, metric.AttendanceRate)
	assert.Zero(t, metric.VoteParticipationRate)
	assert.Equal(t, 1, metric.MonthsInOffice)

	for _, rate := range []float64{metric.AdvancementRate, metric.AttendanceRate, metric.VoteParticipationRate} {
		assert.GreaterOrEqual(t, rate, 0.0)
		assert.LessOrEqual(t, rate, 1.0)
	}
}

func TestRecomputeAttendanceAndVotes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legislator := f.legislator(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	session := legisdomain.Session{
		ID:          f.genID.Generate(),
		ExternalID:  "ses-1",
		Date:        time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC),
		SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&session).Error)
	session2 := legisdomain.Session{
		ID:          f.genID.Generate(),
		ExternalID:  "ses-2",
		Date:        time.Date(2026, 5, 2, 0, 0, 0, 0, time.UTC),
		SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&session2).Error)

	require.NoError(t, f.db.Create(&legisdomain.Attendance{
		ID: f.genID.Generate(), SessionID: session.ID,
		LegislatorID: legislator.ID, Status: legisdomain.AttendancePresent, SourceRefID: 1,
	}).Error)
	require.NoError(t, f.db.Create(&legisdomain.Attendance{
		ID: f.genID.Generate(), SessionID: session2.ID,
		LegislatorID: legislator.ID, Status: legisdomain.AttendanceAbsent, SourceRefID: 1,
	}).Error)

	event := legisdomain.VoteEvent{
		ID: f.genID.Generate(), ExternalID: "vote-1", Title: "Votación",
		Date: time.Date(2026, 4, 2, 0, 0, 0, 0, time.UTC), SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&event).Error)
	require.NoError(t, f.db.Create(&legisdomain.VoteResult{
		ID: f.genID.Generate(), VoteEventID: event.ID,
		LegislatorID: legislator.ID, Vote: legisdomain.VoteAffirmative,
	}).Error)

	metric, err := f.engine.Recompute(ctx, legislator.ID, 2026)
	require.NoError(t, err)

	assert.InDelta(t, 0.5, metric.AttendanceRate, 1e-9)
	assert.InDelta(t, 1.0, metric.VoteParticipationRate, 1e-9)
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	legislator := f.legislator(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	f.bill(t, legisdomain.BillApproved, 2026, legislator.ID, legisdomain.RoleAuthor)

	first, err := f.engine.Recompute(ctx, legislator.ID, 2026)
	require.NoError(t, err)
	second, err := f.engine.Recompute(ctx, legislator.ID, 2026)
	require.NoError(t, err)

	assert.Equal(t, first.BillsAuthored, second.BillsAuthored)
	assert.Equal(t, first.AdvancementRate, second.AdvancementRate)

	// One row per (legislator, period), no matter how often it runs.
	var count int64
	require.NoError(t, f.db.Model(&LegislatorMetric{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRound4(t *testing.T) {
	assert.Equal(t, 0.3333, round4(1.0/3.0))
	assert.Equal(t, 0.6667, round4(2.0/3.0))
	assert.Equal(t, 0.0, round4(0))
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
