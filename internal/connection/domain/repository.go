package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Upsert(ctx context.Context, db *gorm.DB, conn *Connection) error
	Update(ctx context.Context, db *gorm.DB, conn *Connection) error
	FindByShopDomain(ctx context.Context, db *gorm.DB, shopDomain string) (*Connection, error)
	FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*Connection, error)
	FindByTenantAndShop(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, shopDomain string) (*Connection, error)
}
