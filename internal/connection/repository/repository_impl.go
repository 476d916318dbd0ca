package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/observalabs/mirador/internal/connection/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Upsert(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "shop_domain"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"access_token", "scopes", "updated_at",
		}),
	}).Create(conn).Error
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, conn *domain.Connection) error {
	return db.WithContext(ctx).Save(conn).Error
}

func (r *repo) FindByShopDomain(ctx context.Context, db *gorm.DB, shopDomain string) (*domain.Connection, error) {
	var conn domain.Connection
	err := db.WithContext(ctx).
		Where("shop_domain = ?", strings.ToLower(shopDomain)).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *repo) FindByTenant(ctx context.Context, db *gorm.DB, tenantID snowflake.ID) ([]*domain.Connection, error) {
	var conns []*domain.Connection
	err := db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("created_at").
		Find(&conns).Error
	if err != nil {
		return nil, err
	}
	return conns, nil
}

func (r *repo) FindByTenantAndShop(ctx context.Context, db *gorm.DB, tenantID snowflake.ID, shopDomain string) (*domain.Connection, error) {
	var conn domain.Connection
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND shop_domain = ?", tenantID, strings.ToLower(shopDomain)).
		First(&conn).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conn, nil
}
