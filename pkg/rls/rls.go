package rls

import (
	"fmt"

	"gorm.io/gorm"
)

// WithTenant sets the row-level-security tenant for the current
// transaction. RLS is the backstop; the primary enforcement is the
// tenant guard in pkg/db. SET LOCAL is postgres-only and requires an
// open transaction, so other dialects (the sqlite test databases)
// no-op.
func WithTenant(tx *gorm.DB, tenantID int64) error {
	if tx.Dialector.Name() != "postgres" {
		return nil
	}
	return tx.Exec(
		"SET LOCAL app.current_tenant_id = ?",
		fmt.Sprintf("%d", tenantID),
	).Error
}
