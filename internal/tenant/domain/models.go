package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// rank orders plan tiers for the soft-match fallback.
func (p PlanTier) Rank() int {
	switch p {
	case PlanEnterprise:
		return 2
	case PlanPro:
		return 1
	default:
		return 0
	}
}

// Tenant is the end-merchant or end-user in whose scope all
// operations run. Created on the first successful identity handshake;
// never hard-deleted.
type Tenant struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	Email      string       `gorm:"not null;uniqueIndex" json:"email"`
	Name       string       `json:"name"`
	Picture    string       `json:"picture,omitempty"`
	Plan       PlanTier     `gorm:"not null;default:free" json:"plan"`
	SolveCount int          `gorm:"not null;default:0" json:"solve_count"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
