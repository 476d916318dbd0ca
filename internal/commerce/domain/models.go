package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Product is the upserted form of one catalog entry. Variants are
// kept as the raw snapshot; inventory_quantity is the sum of the
// variants' quantities at upsert time.
type Product struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;uniqueIndex:idx_products_tenant_ext" json:"tenant_id"`
	ExternalID string       `gorm:"not null;uniqueIndex:idx_products_tenant_ext" json:"external_id"`

	Title             string         `gorm:"not null" json:"title"`
	Vendor            string         `json:"vendor,omitempty"`
	Price             *float64       `json:"price,omitempty"`
	CostPerItem       *float64       `json:"cost_per_item,omitempty"`
	InventoryQuantity int            `gorm:"not null;default:0" json:"inventory_quantity"`
	Tags              string         `json:"tags,omitempty"`
	Variants          datatypes.JSON `gorm:"type:jsonb" json:"variants,omitempty"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

type Order struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID   snowflake.ID `gorm:"not null;uniqueIndex:idx_orders_tenant_ext" json:"tenant_id"`
	ExternalID string       `gorm:"not null;uniqueIndex:idx_orders_tenant_ext" json:"external_id"`

	Ordinal       string    `json:"ordinal,omitempty"`
	TotalPrice    float64   `gorm:"not null;default:0" json:"total_price"`
	Status        string    `json:"status,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	OrderDate     time.Time `gorm:"not null;index" json:"order_date"`

	LineItems []OrderLineItem `gorm:"foreignKey:OrderID" json:"line_items,omitempty"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// OrderLineItem rows carry the product external id so demand can be
// aggregated per product without touching the raw snapshots.
type OrderLineItem struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;index" json:"tenant_id"`
	OrderID  snowflake.ID `gorm:"not null;index" json:"order_id"`

	ProductExternalID string  `gorm:"index" json:"product_external_id,omitempty"`
	VariantExternalID string  `json:"variant_external_id,omitempty"`
	Title             string  `json:"title,omitempty"`
	Quantity          int     `gorm:"not null;default:0" json:"quantity"`
	Price             float64 `gorm:"not null;default:0" json:"price"`
}

type InventoryLevel struct {
	ID       snowflake.ID `gorm:"primaryKey" json:"id"`
	TenantID snowflake.ID `gorm:"not null;uniqueIndex:idx_inventory_tenant_variant_loc" json:"tenant_id"`

	VariantExternalID  string `gorm:"not null;uniqueIndex:idx_inventory_tenant_variant_loc" json:"variant_external_id"`
	LocationExternalID string `gorm:"not null;uniqueIndex:idx_inventory_tenant_variant_loc" json:"location_external_id"`
	Quantity           int    `gorm:"not null;default:0" json:"quantity"`

	SourceRefID snowflake.ID `gorm:"not null;index" json:"source_ref_id"`
	UpdatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}
