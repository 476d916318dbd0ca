package legmetrics

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// LegislatorMetric is derived state: one row per (legislator,
// period), a pure function of the raw legislative rows. Concurrent
// recomputations converge via last-writer-wins upsert.
type LegislatorMetric struct {
	ID           snowflake.ID `gorm:"primaryKey" json:"id"`
	LegislatorID snowflake.ID `gorm:"not null;uniqueIndex:idx_legislator_metrics_pair" json:"legislator_id"`
	Period       int          `gorm:"not null;uniqueIndex:idx_legislator_metrics_pair" json:"period"`

	BillsAuthored        int `gorm:"not null;default:0" json:"bills_authored"`
	BillsCosigned        int `gorm:"not null;default:0" json:"bills_cosigned"`
	BillsWithAdvancement int `gorm:"not null;default:0" json:"bills_with_advancement"`

	AdvancementRate       float64 `gorm:"not null;default:0" json:"advancement_rate"`
	AttendanceRate        float64 `gorm:"not null;default:0" json:"attendance_rate"`
	VoteParticipationRate float64 `gorm:"not null;default:0" json:"vote_participation_rate"`

	MonthsInOffice         int     `gorm:"not null;default:1" json:"months_in_office"`
	CommissionsCount       int     `gorm:"not null;default:0" json:"commissions_count"`
	NormalizedProductivity float64 `gorm:"not null;default:0" json:"normalized_productivity"`

	ComputedAt time.Time `gorm:"not null" json:"computed_at"`
}
