package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// MonthlySales is one bucket of the per-month order series consumed
// by the forecast module.
type MonthlySales struct {
	Month   string  `json:"month"` // YYYY-MM
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// ProductSales aggregates demand per product external id.
type ProductSales struct {
	ProductExternalID string  `json:"product_external_id"`
	UnitsSold         int     `json:"units_sold"`
	Revenue           float64 `json:"revenue"`
}

type Repository interface {
	UpsertProduct(ctx context.Context, db *gorm.DB, product *Product) (created bool, err error)
	UpsertOrder(ctx context.Context, db *gorm.DB, order *Order) (created bool, err error)
	ReplaceOrderLineItems(ctx context.Context, db *gorm.DB, order *Order, items []OrderLineItem) error
	UpsertInventoryLevel(ctx context.Context, db *gorm.DB, level *InventoryLevel) error

	FindProduct(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, externalID string) (*Product, error)
	ListProducts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*Product, error)
	CountProducts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)
	CountOrders(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error)

	SalesByProduct(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]ProductSales, error)
	SalesByMonth(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]MonthlySales, error)
	EarliestOrderDate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*time.Time, error)
}
