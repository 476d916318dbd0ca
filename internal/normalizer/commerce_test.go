package normalizer

import (
	"fmt"
	"strings"
	"context"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/internal/apperr"
	commercedomain "github.com/observalabs/mirador/internal/commerce/domain"
	commercerepo "github.com/observalabs/mirador/internal/commerce/repository"
	legisdomain "github.com/observalabs/mirador/internal/legislative/domain"
	legisrepo "github.com/observalabs/mirador/internal/legislative/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestNormalizer(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(sqliteDSN(t)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&commercedomain.Product{},
		&commercedomain.Order{},
		&commercedomain.OrderLineItem{},
		&commercedomain.InventoryLevel{},
		&legisdomain.Legislator{},
		&legisdomain.Bill{},
		&legisdomain.BillMovement{},
		&legisdomain.BillAuthor{},
		&legisdomain.Session{},
		&legisdomain.VoteEvent{},
		&legisdomain.VoteResult{},
		&legisdomain.Attendance{},
	))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	svc := New(Params{
		DB:       db,
		Log:      zap.NewNop(),
		GenID:    node,
		Commerce: commercerepo.Provide(),
		Legis:    legisrepo.Provide(),
	})
	return svc, db
}

const productsFixture = `{
  "products": [
    {
      "id": 101,
      "title": "Yerba Mate 1kg",
      "vendor": "La Hoja",
      "tags": "food,mate",
      "variants": [
        {"id": 1001, "title": "Default", "price": "12.50", "inventory_quantity": 7, "cost": "6.00"},
        {"id": 1002, "title": "Caja x6", "price": "70.00", "inventory_quantity": 3}
      ]
    },
    {
      "id": 102,
      "title": "Termo Acero",
      "vendor": "Sur",
      "tags": "",
      "variants": [
        {"id": 1003, "title": "Default", "price": "40.00", "inventory_quantity": 0}
      ]
    }
  ]
}`

func TestApplyProductsSumsVariantInventory(t *testing.T) {
	svc, db := newTestNormalizer(t)
	ctx := context.Background()
	tenantID := snowflake.ID(77)

	result, err := svc.Apply(ctx, "shopify_products", &tenantID, 1, []byte(productsFixture))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Processed)
	assert.Zero(t, result.Errored)

	var product commercedomain.Product
	require.NoError(t, db.Where("tenant_id = ? AND external_id = ?", tenantID, "101").First(&product).Error)
	assert.Equal(t, 10, product.InventoryQuantity)
	require.NotNil(t, product.Price)
	assert.Equal(t, 12.50, *product.Price)
	require.NotNil(t, product.CostPerItem)
	assert.Equal(t, 6.00, *product.CostPerItem)
	assert.EqualValues(t, 1, product.SourceRefID)
}

func TestApplyProductsIsIdempotent(t *testing.T) {
	svc, db := newTestNormalizer(t)
	ctx := context.Background()
	tenantID := snowflake.ID(77)

	_, err := svc.Apply(ctx, "shopify_products", &tenantID, 1, []byte(productsFixture))
	require.NoError(t, err)
	_, err = svc.Apply(ctx, "shopify_products", &tenantID, 2, []byte(productsFixture))
	require.NoError(t, err)

	// Upserting the same payload twice produces zero additional rows.
	var count int64
	require.NoError(t, db.Model(&commercedomain.Product{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	// The back-reference points at the latest source ref.
	var product commercedomain.Product
	require.NoError(t, db.Where("external_id = ?", "101").First(&product).Error)
	assert.EqualValues(t, 2, product.SourceRefID)
}

func TestApplyProductsRejectsStructuralMismatch(t *testing.T) {
	svc, db := newTestNormalizer(t)
	ctx := context.Background()
	tenantID := snowflake.ID(77)

	_, err := svc.Apply(ctx, "shopify_products", &tenantID, 1, []byte(`{"items": []}`))
	require.Error(t, err)
	assert.Equal(t, apperr.KindSourceSchema, apperr.KindOf(err))

	// No partial upsert.
	var count int64
	require.NoError(t, db.Model(&commercedomain.Product{}).Count(&count).Error)
	assert.Zero(t, count)
}

const ordersFixture = `{
  "orders": [
    {
      "id": 9001,
      "order_number": 1001,
      "total_price": "95.00",
      "financial_status": "paid",
      "email": "buyer@example.com",
      "created_at": "2026-02-10T15:04:05Z",
      "line_items": [
        {"product_id": 101, "variant_id": 1001, "title": "Yerba Mate 1kg", "quantity": 2, "price": "12.50"},
        {"product_id": 102, "variant_id": 1003, "title": "Termo Acero", "quantity": 1, "price": "40.00"}
      ]
    }
  ]
}`

func TestApplyOrdersWritesLineItems(t *testing.T) {
	svc, db := newTestNormalizer(t)
	ctx := context.Background()
	tenantID := snowflake.ID(77)

	result, err := svc.Apply(ctx, "shopify_orders", &tenantID, 1, []byte(ordersFixture))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	var items []commercedomain.OrderLineItem
	require.NoError(t, db.Where("tenant_id = ?", tenantID).Find(&items).Error)
	require.Len(t, items, 2)
	assert.Equal(t, "101", items[0].ProductExternalID)

	// Replayed orders rewrite, not duplicate, their line items.
	_, err = svc.Apply(ctx, "shopify_orders", &tenantID, 2, []byte(ordersFixture))
	require.NoError(t, err)
	require.NoError(t, db.Where("tenant_id = ?", tenantID).Find(&items).Error)
	assert.Len(t, items, 2)

	var orderCount int64
	require.NoError(t, db.Model(&commercedomain.Order{}).Count(&orderCount).Error)
	assert.EqualValues(t, 1, orderCount)
}

func TestApplyCommerceRequiresTenant(t *testing.T) {
	svc, _ := newTestNormalizer(t)

	_, err := svc.Apply(context.Background(), "shopify_products", nil, 1, []byte(productsFixture))
	require.Error(t, err)
	assert.Equal(t, apperr.KindSourceSchema, apperr.KindOf(err))
}

func TestApplyProductsTracksAffectedTenant(t *testing.T) {
	svc, _ := newTestNormalizer(t)
	tenantID := snowflake.ID(31)

	result, err := svc.Apply(context.Background(), "shopify_products", &tenantID, 1, []byte(productsFixture))
	require.NoError(t, err)

	_, ok := result.affected[RecomputeKey{Kind: "tenant_analysis", EntityID: tenantID}]
	assert.True(t, ok)
}

func sqliteDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
}
