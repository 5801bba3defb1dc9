package scope

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/tenancy"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

// Gateway is the tenant-scoped entry point for data access. Every operation
// requires a bound TenantContext and runs with the tenant filter ANDed onto
// whatever conditions the caller supplies. The handle it wraps comes from the
// schema router, so scoping is applied twice: once by the schema the
// connection is pinned to, once by the filter.
type Gateway struct {
	db       *gorm.DB
	registry *Registry
}

var schemaCache sync.Map

// NewGateway wraps a tenant handle. The scoping callbacks are installed on
// the handle as a side effect; installing twice is harmless.
func NewGateway(db *gorm.DB, registry *Registry) (*Gateway, error) {
	if err := NewCallbacks(registry).Register(db); err != nil {
		return nil, err
	}
	return &Gateway{db: db, registry: registry}, nil
}

func (g *Gateway) requireTenant(ctx context.Context) error {
	if _, err := tenancy.FromContext(ctx); err != nil {
		return shared.ErrTenantContextMissing
	}
	return nil
}

// session returns a request-scoped handle. The context carries the tenant the
// callbacks read.
func (g *Gateway) session(ctx context.Context) *gorm.DB {
	return g.db.WithContext(ctx)
}

// Find loads all rows of the bound tenant matching the caller's conditions.
func (g *Gateway) Find(ctx context.Context, dest interface{}, conds ...interface{}) error {
	if err := g.requireTenant(ctx); err != nil {
		return err
	}
	return g.session(ctx).Find(dest, conds...).Error
}

// First loads one row, returning NOT_FOUND when the row does not exist or
// belongs to another tenant. The two cases are deliberately indistinguishable
// to the caller.
func (g *Gateway) First(ctx context.Context, dest interface{}, conds ...interface{}) error {
	if err := g.requireTenant(ctx); err != nil {
		return err
	}
	err := g.session(ctx).First(dest, conds...).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return shared.ErrNotFound
	}
	return err
}

// Count counts the bound tenant's rows matching the conditions.
func (g *Gateway) Count(ctx context.Context, model interface{}, conds ...interface{}) (int64, error) {
	if err := g.requireTenant(ctx); err != nil {
		return 0, err
	}
	tx := g.session(ctx).Model(model)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

// Create inserts value for the bound tenant. Direct-scoped tables get their
// tenant column stamped; a pre-set different tenant aborts the write. Tables
// scoped through a parent are inserted only after the parent row is confirmed
// to belong to the bound tenant.
func (g *Gateway) Create(ctx context.Context, value interface{}) error {
	if err := g.requireTenant(ctx); err != nil {
		return err
	}
	if err := g.checkParentOwnership(ctx, value); err != nil {
		return err
	}
	return g.session(ctx).Create(value).Error
}

// Updates applies values to the tenant's rows matching the conditions and
// returns the number of rows touched.
func (g *Gateway) Updates(ctx context.Context, model interface{}, values interface{}, conds ...interface{}) (int64, error) {
	if err := g.requireTenant(ctx); err != nil {
		return 0, err
	}
	tx := g.session(ctx).Model(model)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	res := tx.Updates(values)
	return res.RowsAffected, res.Error
}

// Delete removes the tenant's rows matching the conditions and returns the
// number of rows removed.
func (g *Gateway) Delete(ctx context.Context, model interface{}, conds ...interface{}) (int64, error) {
	if err := g.requireTenant(ctx); err != nil {
		return 0, err
	}
	res := g.session(ctx).Delete(model, conds...)
	return res.RowsAffected, res.Error
}

// ValidateOwnership reports whether the row with the given primary key exists
// within the bound tenant's data.
func (g *Gateway) ValidateOwnership(ctx context.Context, model interface{}, id interface{}) (bool, error) {
	n, err := g.Count(ctx, model, "id = ?", id)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Transaction runs fn inside a database transaction with the same scoping.
func (g *Gateway) Transaction(ctx context.Context, fn func(tx *Gateway) error) error {
	if err := g.requireTenant(ctx); err != nil {
		return err
	}
	return g.session(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Gateway{db: tx, registry: g.registry})
	})
}

// DB returns a tenant-bound session for queries the convenience methods do
// not cover. The scoping callbacks still apply to everything run on it.
func (g *Gateway) DB(ctx context.Context) (*gorm.DB, error) {
	if err := g.requireTenant(ctx); err != nil {
		return nil, err
	}
	return g.session(ctx), nil
}

// checkParentOwnership verifies, for tables scoped through a relation, that
// the referenced parent row belongs to the bound tenant. A missing or foreign
// parent is reported as cross-tenant access.
func (g *Gateway) checkParentOwnership(ctx context.Context, value interface{}) error {
	sch, err := schema.Parse(value, &schemaCache, g.db.NamingStrategy)
	if err != nil {
		return nil
	}
	binding, ok := g.registry.Binding(sch.Table)
	if !ok || binding.Via == nil {
		return nil
	}
	via := binding.Via

	field, ok := sch.FieldsByDBName[via.LocalColumn]
	if !ok {
		return fmt.Errorf("table %s: relation column %s not found on model", sch.Table, via.LocalColumn)
	}

	rv := reflect.ValueOf(value)
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}

	check := func(item reflect.Value) error {
		for item.Kind() == reflect.Ptr {
			item = item.Elem()
		}
		fk, isZero := field.ValueOf(ctx, item)
		if isZero {
			return shared.NewDomainError("INVALID_INPUT", "Missing parent reference for scoped insert")
		}
		var n int64
		err := g.session(ctx).
			Table(via.ParentTable).
			Where(fmt.Sprintf("%q = ?", via.ParentKey), fk).
			Count(&n).Error
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrCrossTenantAccess
		}
		return nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			if err := check(rv.Index(i)); err != nil {
				return err
			}
		}
		return nil
	default:
		return check(rv)
	}
}
