package db

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/observalabs/mirador/pkg/tenantctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type guardedProduct struct {
	ID       int64 `gorm:"primaryKey"`
	TenantID int64
	Title    string
}

func (guardedProduct) TableName() string { return "products" }

type openTable struct {
	ID   int64 `gorm:"primaryKey"`
	Name string
}

func (openTable) TableName() string { return "open_rows" }

func newGuardedDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&guardedProduct{}, &openTable{}))
	require.NoError(t, RegisterTenantGuard(conn))

	require.NoError(t, conn.Create(&guardedProduct{ID: 1, TenantID: 7, Title: "x"}).Error)
	require.NoError(t, conn.Create(&openTable{ID: 1, Name: "y"}).Error)
	return conn
}

func TestGuardRejectsUnscopedRead(t *testing.T) {
	conn := newGuardedDB(t)

	var rows []guardedProduct
	err := conn.WithContext(context.Background()).Find(&rows).Error
	assert.ErrorIs(t, err, ErrMissingTenantPredicate)
}

func TestGuardRejectsTenantContextWithoutPredicate(t *testing.T) {
	conn := newGuardedDB(t)
	ctx := tenantctx.WithTenantID(context.Background(), 7)

	var row guardedProduct
	err := conn.WithContext(ctx).Where("id = ?", 1).First(&row).Error
	assert.ErrorIs(t, err, ErrMissingTenantPredicate)
}

func TestGuardAdmitsTenantPredicate(t *testing.T) {
	conn := newGuardedDB(t)

	var rows []guardedProduct
	err := conn.WithContext(context.Background()).
		Where("tenant_id = ?", 7).
		Find(&rows).Error
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	var row guardedProduct
	err = conn.WithContext(context.Background()).
		Where("tenant_id = ? AND id = ?", 7, 1).
		First(&row).Error
	require.NoError(t, err)
}

func TestGuardAdmitsSystemScope(t *testing.T) {
	conn := newGuardedDB(t)
	ctx := tenantctx.WithSystemScope(context.Background())

	var rows []guardedProduct
	err := conn.WithContext(ctx).Find(&rows).Error
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGuardIgnoresOpenTables(t *testing.T) {
	conn := newGuardedDB(t)

	var rows []openTable
	err := conn.WithContext(context.Background()).Find(&rows).Error
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGuardCoversCounts(t *testing.T) {
	conn := newGuardedDB(t)

	var count int64
	err := conn.WithContext(context.Background()).
		Model(&guardedProduct{}).
		Count(&count).Error
	assert.ErrorIs(t, err, ErrMissingTenantPredicate)
}
