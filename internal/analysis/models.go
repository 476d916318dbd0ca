package analysis

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ModuleName string

const (
	ModuleMargin   ModuleName = "MARGIN"
	ModuleStock    ModuleName = "STOCK"
	ModuleForecast ModuleName = "FORECAST"
	ModuleCashflow ModuleName = "CASHFLOW"
)

func AllModules() []ModuleName {
	return []ModuleName{ModuleMargin, ModuleStock, ModuleForecast, ModuleCashflow}
}

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

type Source string

const (
	SourceManual           Source = "manual"
	SourceAuto             Source = "shopify_auto"
	SourceManualWithSource Source = "manual-with-source"
)

// UserCosts are the tenant-supplied overrides consumed alongside the
// raw state. The solvers themselves run client-side; the engine only
// prepares their inputs.
type UserCosts struct {
	OrderingCost   *float64 `json:"ordering_cost,omitempty"`
	HoldingCostPct *float64 `json:"holding_cost_pct,omitempty"`
	FixedCosts     *float64 `json:"fixed_costs,omitempty"`
	OpeningBalance *float64 `json:"opening_balance,omitempty"`
	LeadTime       *float64 `json:"lead_time,omitempty"`
}

// ModuleResult is one per-module recommendation.
type ModuleResult struct {
	Applicable bool           `json:"applicable"`
	Priority   Priority       `json:"priority"`
	Confidence float64        `json:"confidence"`
	Needs      []string       `json:"needs,omitempty"`
	Inputs     map[string]any `json:"inputs"`
	Insights   []string       `json:"insights,omitempty"`
}

// MissingField names one required datum and the modules it unblocks.
type MissingField struct {
	Field    string       `json:"field"`
	Unblocks []ModuleName `json:"unblocks"`
}

// Bundle is the full analysis response.
type Bundle struct {
	Modules         map[ModuleName]ModuleResult `json:"modules"`
	GeneralInsights string                      `json:"general_insights"`
	Recommendations []string                    `json:"recommendations"`
	MissingData     []MissingField              `json:"missing_data"`
}

// Analysis is the persisted replay row: one per applicable module per
// run.
type Analysis struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;index" json:"tenant_id"`

	Module  ModuleName        `gorm:"not null" json:"module"`
	Inputs  datatypes.JSONMap `gorm:"type:jsonb" json:"inputs,omitempty"`
	Outputs datatypes.JSONMap `gorm:"type:jsonb" json:"outputs,omitempty"`
	Insight string            `json:"insight,omitempty"`
	Source  Source            `gorm:"not null;default:shopify_auto" json:"source"`

	CreatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

func (Analysis) TableName() string { return "analyses" }
