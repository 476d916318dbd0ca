package analysis

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/clock"
	commercedomain "github.com/observalabs/mirador/internal/commerce/domain"
	commercerepo "github.com/observalabs/mirador/internal/commerce/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	engine *Engine
	db     *gorm.DB
	genID  *snowflake.Node
	tenant snowflake.ID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&commercedomain.Product{},
		&commercedomain.Order{},
		&commercedomain.OrderLineItem{},
		&commercedomain.InventoryLevel{},
		&Analysis{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	engine := New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  commercerepo.Provide(),
	})
	return &fixture{engine: engine, db: db, genID: node, tenant: snowflake.ID(55)}
}

func (f *fixture) product(t *testing.T, title string, price, cost *float64, qty int) commercedomain.Product {
	t.Helper()
	product := commercedomain.Product{
		ID:                f.genID.Generate(),
		TenantID:          f.tenant,
		ExternalID:        fmt.Sprintf("p-%d", f.genID.Generate()),
		Title:             title,
		Price:             price,
		CostPerItem:       cost,
		InventoryQuantity: qty,
		SourceRefID:       1,
	}
	require.NoError(t, f.db.Create(&product).Error)
	return product
}

func (f *fixture) order(t *testing.T, when time.Time, total float64, items []commercedomain.OrderLineItem) {
	t.Helper()
	order := commercedomain.Order{
		ID:          f.genID.Generate(),
		TenantID:    f.tenant,
		ExternalID:  fmt.Sprintf("o-%d", f.genID.Generate()),
		TotalPrice:  total,
		OrderDate:   when,
		SourceRefID: 1,
	}
	require.NoError(t, f.db.Create(&order).Error)
	for i := range items {
		items[i].ID = f.genID.Generate()
		items[i].TenantID = f.tenant
		items[i].OrderID = order.ID
	}
	if len(items) > 0 {
		require.NoError(t, f.db.Create(&items).Error)
	}
}

func fptr(v float64) *float64 { return &v }

func TestAnalysisWithMissingCost(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Producto A", fptr(10), nil, 5)
	f.product(t, "Producto B", fptr(20), nil, 2)
	f.product(t, "Producto C", fptr(30), nil, 0)

	bundle, err := f.engine.Run(context.Background(), f.tenant, nil, UserCosts{})
	require.NoError(t, err)

	margin := bundle.Modules[ModuleMargin]
	assert.True(t, margin.Applicable)
	assert.Equal(t, PriorityMedium, margin.Priority)

	stock := bundle.Modules[ModuleStock]
	assert.True(t, stock.Applicable)
	assert.Equal(t, PriorityMedium, stock.Priority)
	assert.ElementsMatch(t, []string{"ordering_cost", "holding_cost_pct"}, stock.Needs)
	assert.Nil(t, stock.Inputs)

	fields := make([]string, 0, len(bundle.MissingData))
	for _, missing := range bundle.MissingData {
		fields = append(fields, missing.Field)
	}
	assert.Contains(t, fields, "cost_per_item")
	assert.Contains(t, fields, "ordering_cost")
}

func TestStockInputsWithCosts(t *testing.T) {
	f := newFixture(t)
	top := f.product(t, "Top Seller", fptr(10), fptr(4), 100)
	f.product(t, "Minor", fptr(5), nil, 3)
	f.order(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 50, []commercedomain.OrderLineItem{
		{ProductExternalID: top.ExternalID, Quantity: 5, Price: 10},
	})

	costs := UserCosts{
		OrderingCost:   fptr(30),
		HoldingCostPct: fptr(0.2),
		LeadTime:       fptr(0.05),
	}
	bundle, err := f.engine.Run(context.Background(), f.tenant, []ModuleName{ModuleStock}, costs)
	require.NoError(t, err)

	stock := bundle.Modules[ModuleStock]
	require.True(t, stock.Applicable)
	assert.Equal(t, PriorityHigh, stock.Priority)
	require.NotNil(t, stock.Inputs)

	// Observed sales annualized beat the inventory lower bound.
	assert.Equal(t, 60.0, stock.Inputs["D"])
	assert.Equal(t, 30.0, stock.Inputs["K"])
	assert.InDelta(t, 0.8, stock.Inputs["h"].(float64), 1e-9)
	assert.Equal(t, "Top Seller", stock.Inputs["product_name"])
}

func TestStockDemandFallsBackToInventory(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Sin Ventas", fptr(10), fptr(4), 25)

	costs := UserCosts{OrderingCost: fptr(30), HoldingCostPct: fptr(0.2)}
	bundle, err := f.engine.Run(context.Background(), f.tenant, []ModuleName{ModuleStock}, costs)
	require.NoError(t, err)

	stock := bundle.Modules[ModuleStock]
	require.NotNil(t, stock.Inputs)
	assert.Equal(t, 100.0, stock.Inputs["D"])
	assert.Equal(t, "inventory_lower_bound", stock.Inputs["demand_source"])
}

func TestForecastNeedsThreeMonths(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Producto", fptr(10), nil, 5)
	f.order(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), 10, nil)
	f.order(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), 10, nil)

	bundle, err := f.engine.Run(context.Background(), f.tenant, []ModuleName{ModuleForecast}, UserCosts{})
	require.NoError(t, err)
	assert.False(t, bundle.Modules[ModuleForecast].Applicable)
	assert.Equal(t, PriorityLow, bundle.Modules[ModuleForecast].Priority)

	f.order(t, time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC), 10, nil)
	bundle, err = f.engine.Run(context.Background(), f.tenant, []ModuleName{ModuleForecast}, UserCosts{})
	require.NoError(t, err)
	assert.True(t, bundle.Modules[ModuleForecast].Applicable)
}

func TestRunPersistsApplicableModules(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Producto", fptr(10), fptr(5), 5)

	_, err := f.engine.Run(context.Background(), f.tenant, nil, UserCosts{})
	require.NoError(t, err)

	var rows []Analysis
	require.NoError(t, f.db.Where("tenant_id = ?", f.tenant).Find(&rows).Error)
	require.NotEmpty(t, rows)
	for _, row := range rows {
		assert.Equal(t, SourceAuto, row.Source)
	}

	recent, err := f.engine.Recent(context.Background(), f.tenant, 10)
	require.NoError(t, err)
	assert.Len(t, recent, len(rows))
}

func TestRecommendationsNameOutOfStockProducts(t *testing.T) {
	f := newFixture(t)
	f.product(t, "Agotado Uno", fptr(10), nil, 0)
	f.product(t, "Agotado Dos", fptr(10), nil, 0)
	f.product(t, "En Stock", fptr(10), nil, 9)

	bundle, err := f.engine.Run(context.Background(), f.tenant, []ModuleName{ModuleCashflow}, UserCosts{})
	require.NoError(t, err)

	found := false
	for _, rec := range bundle.Recommendations {
		if strings.Contains(rec, "2 products out of stock") && strings.Contains(rec, "Agotado Uno") {
			found = true
		}
	}
	assert.True(t, found, "out-of-stock products must be named: %v", bundle.Recommendations)
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
