package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/clock"
	commercedomain "github.com/observalabs/mirador/internal/commerce/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  commercedomain.Repository
}

// Engine turns the tenant's current raw state plus cost overrides
// into per-module recommendations. It is a pure function of its
// inputs; persistence happens per applicable module for replay.
type Engine struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  commercedomain.Repository
}

func New(p Params) *Engine {
	return &Engine{
		db:    p.DB,
		log:   p.Log.Named("analysis"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

// snapshot is the loaded raw state one run works from.
type snapshot struct {
	products []*commercedomain.Product
	sales    map[string]commercedomain.ProductSales
	monthly  []commercedomain.MonthlySales
}

// Run computes the bundle for the requested modules (all when empty)
// and persists one Analysis row per applicable module.
func (e *Engine) Run(ctx context.Context, tenantID snowflake.ID, modules []ModuleName, costs UserCosts) (Bundle, error) {
	snap, err := e.load(ctx, tenantID)
	if err != nil {
		return Bundle{}, err
	}

	if len(modules) == 0 {
		modules = AllModules()
	}

	bundle := Bundle{Modules: make(map[ModuleName]ModuleResult, len(modules))}
	for _, module := range modules {
		var result ModuleResult
		switch module {
		case ModuleMargin:
			result = e.margin(snap, costs)
		case ModuleStock:
			result = e.stock(snap, costs)
		case ModuleForecast:
			result = e.forecast(snap)
		case ModuleCashflow:
			result = e.cashflow(snap, costs)
		default:
			continue
		}
		bundle.Modules[module] = result
	}

	bundle.GeneralInsights = e.generalInsights(snap)
	bundle.Recommendations = e.recommendations(snap, costs)
	bundle.MissingData = e.missingData(snap, costs)

	if err := e.persist(ctx, tenantID, bundle); err != nil {
		return Bundle{}, err
	}
	return bundle, nil
}

func (e *Engine) load(ctx context.Context, tenantID snowflake.ID) (snapshot, error) {
	products, err := e.repo.ListProducts(ctx, e.db, tenantID)
	if err != nil {
		return snapshot{}, err
	}
	salesRows, err := e.repo.SalesByProduct(ctx, e.db, tenantID)
	if err != nil {
		return snapshot{}, err
	}
	sales := make(map[string]commercedomain.ProductSales, len(salesRows))
	for _, row := range salesRows {
		sales[row.ProductExternalID] = row
	}
	monthly, err := e.repo.SalesByMonth(ctx, e.db, tenantID)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{products: products, sales: sales, monthly: monthly}, nil
}

func (e *Engine) margin(snap snapshot, costs UserCosts) ModuleResult {
	var withPrice, withCost int
	items := make([]map[string]any, 0, len(snap.products))
	for _, p := range snap.products {
		if p.Price == nil {
			continue
		}
		withPrice++
		item := map[string]any{
			"name":   p.Title,
			"price":  *p.Price,
			"volume": snap.sales[p.ExternalID].UnitsSold,
		}
		if p.CostPerItem != nil {
			withCost++
			item["cost"] = *p.CostPerItem
		} else {
			item["cost"] = nil
		}
		items = append(items, item)
	}

	if withPrice == 0 {
		return ModuleResult{
			Applicable: false,
			Priority:   PriorityLow,
			Needs:      []string{"price"},
		}
	}

	priority := PriorityMedium
	if withCost >= 1 {
		priority = PriorityHigh
	}
	result := ModuleResult{
		Applicable: true,
		Priority:   priority,
		Confidence: confidence(withCost, len(snap.products)),
		Inputs: map[string]any{
			"products":    items,
			"fixed_costs": deref(costs.FixedCosts),
		},
	}
	if withCost == 0 {
		result.Needs = []string{"cost_per_item"}
		result.Insights = append(result.Insights,
			"Add cost per item to compute contribution margins per product.")
	} else {
		result.Insights = append(result.Insights,
			fmt.Sprintf("Margin inputs ready for %d priced products (%d with known cost).", withPrice, withCost))
	}
	return result
}

func (e *Engine) stock(snap snapshot, costs UserCosts) ModuleResult {
	if len(snap.products) == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow, Needs: []string{"products"}}
	}

	var needs []string
	if costs.OrderingCost == nil {
		needs = append(needs, "ordering_cost")
	}
	if costs.HoldingCostPct == nil {
		needs = append(needs, "holding_cost_pct")
	}
	if len(needs) > 0 {
		return ModuleResult{
			Applicable: true,
			Priority:   PriorityMedium,
			Confidence: 0.3,
			Needs:      needs,
			Inputs:     nil,
			Insights: []string{
				"Provide ordering and holding costs to compute optimal order quantities.",
			},
		}
	}

	top := topInventoryProduct(snap.products)
	demand, demandSource := estimateDemand(top, snap.sales)

	unitCost := 0.0
	if top.CostPerItem != nil {
		unitCost = *top.CostPerItem
	} else if top.Price != nil {
		unitCost = *top.Price
	}

	leadTime := deref(costs.LeadTime)
	return ModuleResult{
		Applicable: true,
		Priority:   PriorityHigh,
		Confidence: 0.8,
		Inputs: map[string]any{
			"D":             demand,
			"K":             *costs.OrderingCost,
			"h":             *costs.HoldingCostPct * unitCost,
			"L":             leadTime,
			"product_name":  top.Title,
			"demand_source": demandSource,
		},
		Insights: []string{
			fmt.Sprintf("Inventory model prepared for %q with estimated annual demand %.0f.", top.Title, demand),
		},
	}
}

func (e *Engine) forecast(snap snapshot) ModuleResult {
	if len(snap.monthly) < 3 {
		return ModuleResult{
			Applicable: false,
			Priority:   PriorityLow,
			Needs:      []string{"order_history"},
			Insights: []string{
				"At least three calendar months of orders are needed to forecast demand.",
			},
		}
	}
	priority := PriorityMedium
	if len(snap.monthly) >= 6 {
		priority = PriorityHigh
	}
	series := make([]map[string]any, 0, len(snap.monthly))
	for _, bucket := range snap.monthly {
		series = append(series, map[string]any{
			"month":   bucket.Month,
			"orders":  bucket.Orders,
			"revenue": bucket.Revenue,
		})
	}
	return ModuleResult{
		Applicable: true,
		Priority:   priority,
		Confidence: confidence(len(snap.monthly), 12),
		Inputs: map[string]any{
			"series": series,
			"method": "auto",
		},
		Insights: []string{
			fmt.Sprintf("Forecast series covers %d months.", len(snap.monthly)),
		},
	}
}

func (e *Engine) cashflow(snap snapshot, costs UserCosts) ModuleResult {
	if len(snap.products) == 0 {
		return ModuleResult{Applicable: false, Priority: PriorityLow, Needs: []string{"products"}}
	}

	avgInflow := 0.0
	if len(snap.monthly) > 0 {
		total := 0.0
		for _, bucket := range snap.monthly {
			total += bucket.Revenue
		}
		avgInflow = total / float64(len(snap.monthly))
	}

	var needs []string
	if costs.OpeningBalance == nil {
		needs = append(needs, "opening_balance")
	}
	priority := PriorityMedium
	if costs.OpeningBalance != nil && costs.FixedCosts != nil {
		priority = PriorityHigh
	}
	return ModuleResult{
		Applicable: true,
		Priority:   priority,
		Confidence: confidence(len(snap.monthly), 6),
		Needs:      needs,
		Inputs: map[string]any{
			"opening_balance": deref(costs.OpeningBalance),
			"periods":         6,
			"inflows":         []float64{avgInflow},
			"outflows":        []float64{deref(costs.FixedCosts)},
		},
		Insights: []string{
			fmt.Sprintf("Average monthly Shopify inflow is %.2f.", avgInflow),
		},
	}
}

func (e *Engine) generalInsights(snap snapshot) string {
	inventoryValue := 0.0
	totalUnits := 0
	totalSold := 0
	for _, p := range snap.products {
		totalUnits += p.InventoryQuantity
		if p.Price != nil {
			inventoryValue += float64(p.InventoryQuantity) * *p.Price
		}
		totalSold += snap.sales[p.ExternalID].UnitsSold
	}
	return fmt.Sprintf(
		"Catalog has %d products holding %d units (retail value %.2f). %d units sold across the synced order history.",
		len(snap.products), totalUnits, inventoryValue, totalSold,
	)
}

func (e *Engine) recommendations(snap snapshot, costs UserCosts) []string {
	var recs []string

	var outOfStock []string
	for _, p := range snap.products {
		if p.InventoryQuantity <= 0 {
			outOfStock = append(outOfStock, p.Title)
		}
	}
	if len(outOfStock) > 0 {
		shown := outOfStock
		if len(shown) > 3 {
			shown = shown[:3]
		}
		recs = append(recs, fmt.Sprintf("%d products out of stock: %s",
			len(outOfStock), strings.Join(shown, ", ")))
	}

	var withoutCost int
	for _, p := range snap.products {
		if p.CostPerItem == nil {
			withoutCost++
		}
	}
	if withoutCost > 0 {
		recs = append(recs, fmt.Sprintf(
			"Set cost per item on %d products to unlock margin analysis.", withoutCost))
	}
	if costs.OrderingCost == nil {
		recs = append(recs, "Provide your ordering cost to size optimal replenishment orders.")
	}
	return recs
}

func (e *Engine) missingData(snap snapshot, costs UserCosts) []MissingField {
	var missing []MissingField

	anyWithoutCost := false
	for _, p := range snap.products {
		if p.CostPerItem == nil {
			anyWithoutCost = true
			break
		}
	}
	if anyWithoutCost {
		missing = append(missing, MissingField{Field: "cost_per_item", Unblocks: []ModuleName{ModuleMargin, ModuleStock}})
	}
	if costs.OrderingCost == nil {
		missing = append(missing, MissingField{Field: "ordering_cost", Unblocks: []ModuleName{ModuleStock}})
	}
	if costs.HoldingCostPct == nil {
		missing = append(missing, MissingField{Field: "holding_cost_pct", Unblocks: []ModuleName{ModuleStock}})
	}
	if costs.FixedCosts == nil {
		missing = append(missing, MissingField{Field: "fixed_costs", Unblocks: []ModuleName{ModuleMargin, ModuleCashflow}})
	}
	if costs.OpeningBalance == nil {
		missing = append(missing, MissingField{Field: "opening_balance", Unblocks: []ModuleName{ModuleCashflow}})
	}
	return missing
}

func (e *Engine) persist(ctx context.Context, tenantID snowflake.ID, bundle Bundle) error {
	now := e.clock.Now()
	for _, module := range AllModules() {
		result, ok := bundle.Modules[module]
		if !ok || !result.Applicable {
			continue
		}
		outputs := datatypes.JSONMap{
			"priority":   string(result.Priority),
			"confidence": result.Confidence,
			"insights":   result.Insights,
		}
		row := Analysis{
			ID:        e.genID.Generate(),
			TenantID:  tenantID,
			Module:    module,
			Inputs:    datatypes.JSONMap(result.Inputs),
			Outputs:   outputs,
			Insight:   strings.Join(result.Insights, " "),
			Source:    SourceAuto,
			CreatedAt: now,
		}
		if err := e.db.WithContext(ctx).Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the latest persisted rows for replay.
func (e *Engine) Recent(ctx context.Context, tenantID snowflake.ID, limit int) ([]Analysis, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []Analysis
	err := e.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// estimateDemand prefers observed sales annualized; the current
// inventory turned four times a year is the lower-bound fallback.
func estimateDemand(top *commercedomain.Product, sales map[string]commercedomain.ProductSales) (float64, string) {
	if sold := sales[top.ExternalID].UnitsSold; sold > 0 {
		return float64(sold) * 12, "observed_sales"
	}
	return float64(top.InventoryQuantity) * 4, "inventory_lower_bound"
}

func topInventoryProduct(products []*commercedomain.Product) *commercedomain.Product {
	sorted := make([]*commercedomain.Product, len(products))
	copy(sorted, products)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].InventoryQuantity > sorted[j].InventoryQuantity
	})
	return sorted[0]
}

func confidence(have, want int) float64 {
	if want <= 0 || have <= 0 {
		return 0
	}
	c := float64(have) / float64(want)
	if c > 1 {
		c = 1
	}
	return c
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

var Module = fx.Module("analysis",
	fx.Provide(New),
)
