package legmetrics

import (
	"context"
	"errors"
	"math"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrLegislatorNotFound = errors.New("legislator_not_found")

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  legisdomain.Repository
}

// Engine recomputes per-legislator aggregates. Inputs are commutative:
// recomputation order between queues does not matter and replays
// converge on the same row.
type Engine struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  legisdomain.Repository
}

func New(p Params) *Engine {
	return &Engine{
		db:    p.DB,
		log:   p.Log.Named("legmetrics"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// Recompute rebuilds the (legislator, period) row. Period is the
// calendar year; zero means the current year.
func (e *Engine) Recompute(ctx context.Context, legislatorID snowflake.ID, period int) (LegislatorMetric, error) {
	if period == 0 {
		period = e.clock.Now().Year()
	}

	legislator, err := e.repo.FindLegislatorByID(ctx, e.db, legislatorID)
	if err != nil {
		return LegislatorMetric{}, err
	}
	if legislator == nil {
		return LegislatorMetric{}, ErrLegislatorNotFound
	}

	authored, err := e.repo.CountAuthoredBills(ctx, e.db, legislatorID, legisdomain.RoleAuthor, period)
	if err != nil {
		return LegislatorMetric{}, err
	}
	cosigned, err := e.repo.CountAuthoredBills(ctx, e.db, legislatorID, legisdomain.RoleCoauthor, period)
	if err != nil {
		return LegislatorMetric{}, err
	}
	advanced, err := e.repo.CountAdvancedBills(ctx, e.db, legislatorID, period)
	if err != nil {
		return LegislatorMetric{}, err
	}
	attendance, err := e.repo.AttendanceTally(ctx, e.db, legislatorID, period)
	if err != nil {
		return LegislatorMetric{}, err
	}
	votes, err := e.repo.VoteTally(ctx, e.db, legislatorID, period)
	if err != nil {
		return LegislatorMetric{}, err
	}
	commissions, err := e.repo.CountCommissions(ctx, e.db, legislatorID)
	if err != nil {
		return LegislatorMetric{}, err
	}

	months := monthsInOffice(legislator, e.clock)

	metric := LegislatorMetric{
		ID:           e.genID.Generate(),
		LegislatorID: legislatorID,
		Period:       period,

		BillsAuthored:        int(authored),
		BillsCosigned:        int(cosigned),
		BillsWithAdvancement: int(advanced),

		AdvancementRate:       ratio(int(advanced), int(authored)),
		AttendanceRate:        ratio(attendance.Present, attendance.Total),
		VoteParticipationRate: ratio(votes.Voted, votes.Total),

		MonthsInOffice:         months,
		CommissionsCount:       int(commissions),
		NormalizedProductivity: round4(float64(authored) / float64(months)),

		ComputedAt: e.clock.Now(),
	}

	err = e.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "legislator_id"}, {Name: "period"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"bills_authored", "bills_cosigned", "bills_with_advancement",
			"advancement_rate", "attendance_rate", "vote_participation_rate",
			"months_in_office", "commissions_count", "normalized_productivity",
			"computed_at",
		}),
	}).Create(&metric).Error
	if err != nil {
		return LegislatorMetric{}, err
	}
	return metric, nil
}

// RecomputeAll rebuilds every legislator for the period.
func (e *Engine) RecomputeAll(ctx context.Context, period int) (int, error) {
	ids, err := e.repo.ListLegislatorIDs(ctx, e.db)
	if err != nil {
		return 0, err
	}
	recomputed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return recomputed, ctx.Err()
		}
		if _, err := e.Recompute(ctx, id, period); err != nil {
			e.log.Warn("recompute failed",
				zap.String("legislator_id", id.String()),
				zap.Error(err),
			)
			continue
		}
		recomputed++
	}
	return recomputed, nil
}

// Get returns the stored row for (legislator, period).
func (e *Engine) Get(ctx context.Context, legislatorID snowflake.ID, period int) (*LegislatorMetric, error) {
	if period == 0 {
		period = e.clock.Now().Year()
	}
	var metric LegislatorMetric
	err := e.db.WithContext(ctx).
		Where("legislator_id = ? AND period = ?", legislatorID, period).
		First(&metric).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &metric, nil
}

// ratio returns n/d rounded to 4 decimals, or 0 when the denominator
// is 0.
func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return round4(float64(n) / float64(d))
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}

func monthsInOffice(legislator *legisdomain.Legislator, clk clock.Clock) int {
	if legislator.TermStart == nil {
		return 1
	}
	now := clk.Now()
	months := int(now.Sub(*legislator.TermStart).Hours() / (24 * 30))
	if months < 1 {
		return 1
	}
	return months
}

var Module = fx.Module("legmetrics",
	fx.Provide(New),
)
