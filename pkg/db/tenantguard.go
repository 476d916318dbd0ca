package db

import (
	"errors"
	"strings"

	"github.com/observalabs/mirador/pkg/tenantctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrMissingTenantPredicate rejects a read on a tenant-owned table
// whose WHERE clause does not reference the tenant key.
var ErrMissingTenantPredicate = errors.New("query on tenant-owned table lacks tenant predicate")

// tenantOwnedTables lists the tables whose every read must be
// tenant-scoped. Mirrors the RLS policies in migration 000002.
var tenantOwnedTables = map[string]bool{
	"connections":      true,
	"products":         true,
	"orders":           true,
	"order_line_items": true,
	"inventory_levels": true,
	"analyses":         true,
}

// RegisterTenantGuard installs the application-level multi-tenancy
// enforcement: a query callback that refuses any read of a
// tenant-owned table that neither carries the tenant predicate nor
// runs under an explicit system scope. Database row-level security is
// the backstop; this guard is the primary enforcement.
func RegisterTenantGuard(conn *gorm.DB) error {
	return conn.Callback().Query().Before("gorm:query").Register("mirador:tenant_guard", tenantGuard)
}

func tenantGuard(tx *gorm.DB) {
	stmt := tx.Statement
	if stmt == nil {
		return
	}
	if stmt.Schema == nil && stmt.Model != nil {
		_ = stmt.Parse(stmt.Model)
	}
	table := stmt.Table
	if table == "" && stmt.Schema != nil {
		table = stmt.Schema.Table
	}
	if !tenantOwnedTables[table] {
		return
	}

	ctx := stmt.Context
	if ctx != nil && tenantctx.IsSystemScope(ctx) {
		return
	}
	if whereReferencesTenant(stmt) {
		return
	}
	tx.AddError(ErrMissingTenantPredicate)
}

func whereReferencesTenant(stmt *gorm.Statement) bool {
	raw, ok := stmt.Clauses["WHERE"]
	if !ok {
		return false
	}
	where, ok := raw.Expression.(clause.Where)
	if !ok {
		return false
	}
	return exprsReferenceTenant(where.Exprs)
}

func exprsReferenceTenant(exprs []clause.Expression) bool {
	for _, expr := range exprs {
		switch e := expr.(type) {
		case clause.Expr:
			if strings.Contains(e.SQL, "tenant_id") {
				return true
			}
		case clause.NamedExpr:
			if strings.Contains(e.SQL, "tenant_id") {
				return true
			}
		case clause.Eq:
			if columnIsTenant(e.Column) {
				return true
			}
		case clause.IN:
			if columnIsTenant(e.Column) {
				return true
			}
		case clause.AndConditions:
			if exprsReferenceTenant(e.Exprs) {
				return true
			}
		case clause.OrConditions:
			if exprsReferenceTenant(e.Exprs) {
				return true
			}
		}
	}
	return false
}

func columnIsTenant(column interface{}) bool {
	switch c := column.(type) {
	case clause.Column:
		return c.Name == "tenant_id"
	case string:
		return strings.Contains(c, "tenant_id")
	}
	return false
}
