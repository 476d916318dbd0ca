package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/commerce/domain"
	"github.com/observalabs/mirador/pkg/rls"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertProduct(ctx context.Context, db *gorm.DB, product *domain.Product) (bool, error) {
	existing, err := r.FindProduct(ctx, db, product.TenantID, product.ExternalID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		product.ID = existing.ID
		product.CreatedAt = existing.CreatedAt
		err = db.WithContext(ctx).Model(&domain.Product{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"title":              product.Title,
				"vendor":             product.Vendor,
				"price":              product.Price,
				"cost_per_item":      product.CostPerItem,
				"inventory_quantity": product.InventoryQuantity,
				"tags":               product.Tags,
				"variants":           product.Variants,
				"source_ref_id":      product.SourceRefID,
				"updated_at":         product.UpdatedAt,
			}).Error
		return false, err
	}
	if err := db.WithContext(ctx).Create(product).Error; err != nil {
		return false, err
	}
	return true, nil
}

func (r *repo) UpsertOrder(ctx context.Context, db *gorm.DB, order *domain.Order) (bool, error) {
	var existing domain.Order
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", order.TenantID, order.ExternalID).
		First(&existing).Error
	created := errors.Is(err, gorm.ErrRecordNotFound)
	if err != nil && !created {
		return false, err
	}
	if !created {
		order.ID = existing.ID
		order.CreatedAt = existing.CreatedAt
		err = db.WithContext(ctx).Model(&domain.Order{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"ordinal":        order.Ordinal,
				"total_price":    order.TotalPrice,
				"status":         order.Status,
				"customer_email": order.CustomerEmail,
				"order_date":     order.OrderDate,
				"source_ref_id":  order.SourceRefID,
				"updated_at":     order.UpdatedAt,
			}).Error
		return false, err
	}
	if err := db.WithContext(ctx).Omit("LineItems").Create(order).Error; err != nil {
		return false, err
	}
	return true, nil
}

// ReplaceOrderLineItems rewrites the line items of one order; the
// order upsert is the idempotency boundary.
func (r *repo) ReplaceOrderLineItems(ctx context.Context, db *gorm.DB, order *domain.Order, items []domain.OrderLineItem) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := rls.WithTenant(tx, int64(order.TenantID)); err != nil {
			return err
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&domain.OrderLineItem{}).Error; err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}
		for i := range items {
			items[i].OrderID = order.ID
			items[i].TenantID = order.TenantID
		}
		return tx.Create(&items).Error
	})
}

func (r *repo) UpsertInventoryLevel(ctx context.Context, db *gorm.DB, level *domain.InventoryLevel) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "tenant_id"}, {Name: "variant_external_id"}, {Name: "location_external_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"quantity", "source_ref_id", "updated_at"}),
	}).Create(level).Error
}

func (r *repo) FindProduct(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, externalID string) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND external_id = ?", tenantID, externalID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repo) ListProducts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*domain.Product, error) {
	var products []*domain.Product
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("title").
		Find(&products).Error
	if err != nil {
		return nil, err
	}
	return products, nil
}

func (r *repo) CountProducts(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Product{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

func (r *repo) CountOrders(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Order{}).
		Where("tenant_id = ?", tenantID).
		Count(&count).Error
	return count, err
}

func (r *repo) SalesByProduct(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.ProductSales, error) {
	var sales []domain.ProductSales
	err := db.WithContext(ctx).
		Model(&domain.OrderLineItem{}).
		Select("product_external_id, SUM(quantity) AS units_sold, SUM(quantity * price) AS revenue").
		Where("tenant_id = ? AND product_external_id <> ''", tenantID).
		Group("product_external_id").
		Scan(&sales).Error
	if err != nil {
		return nil, err
	}
	return sales, nil
}

func (r *repo) SalesByMonth(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]domain.MonthlySales, error) {
	var orders []domain.Order
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("order_date").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	// Bucketing in Go keeps the query portable across postgres and
	// the sqlite test databases.
	buckets := make(map[string]*domain.MonthlySales)
	var months []string
	for _, order := range orders {
		month := order.OrderDate.UTC().Format("2006-01")
		bucket, ok := buckets[month]
		if !ok {
			bucket = &domain.MonthlySales{Month: month}
			buckets[month] = bucket
			months = append(months, month)
		}
		bucket.Orders++
		bucket.Revenue += order.TotalPrice
	}

	out := make([]domain.MonthlySales, 0, len(months))
	for _, month := range months {
		out = append(out, *buckets[month])
	}
	return out, nil
}

func (r *repo) EarliestOrderDate(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) (*time.Time, error) {
	var order domain.Order
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("order_date").
		First(&order).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	date := order.OrderDate
	return &date, nil
}
