package scope

import (
	"fmt"
	"reflect"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Callbacks injects tenant filters into GORM operations for every table the
// registry knows about. Unregistered tables pass through untouched.
type Callbacks struct {
	registry *Registry
}

// NewCallbacks creates the callback set for a registry.
func NewCallbacks(registry *Registry) *Callbacks {
	return &Callbacks{registry: registry}
}

// Register installs the callbacks on a GORM handle. Registration is
// idempotent so the same handle can safely pass through setup twice.
func (c *Callbacks) Register(db *gorm.DB) error {
	if db.Callback().Query().Get("scope:before_query") != nil {
		return nil
	}
	if err := db.Callback().Query().Before("gorm:query").Register("scope:before_query", c.addTenantFilter); err != nil {
		return fmt.Errorf("register query callback: %w", err)
	}
	if err := db.Callback().Update().Before("gorm:update").Register("scope:before_update", c.addTenantFilter); err != nil {
		return fmt.Errorf("register update callback: %w", err)
	}
	if err := db.Callback().Delete().Before("gorm:delete").Register("scope:before_delete", c.addTenantFilter); err != nil {
		return fmt.Errorf("register delete callback: %w", err)
	}
	if err := db.Callback().Row().Before("gorm:row").Register("scope:before_row", c.addTenantFilter); err != nil {
		return fmt.Errorf("register row callback: %w", err)
	}
	if err := db.Callback().Create().Before("gorm:create").Register("scope:before_create", c.stampTenant); err != nil {
		return fmt.Errorf("register create callback: %w", err)
	}
	return nil
}

// addTenantFilter ANDs the tenant condition onto the statement. It never
// replaces caller conditions: a caller who filters on some other tenant ends
// up with two contradictory conditions and an empty result, not a leak.
func (c *Callbacks) addTenantFilter(db *gorm.DB) {
	binding, ok := c.registry.Binding(db.Statement.Table)
	if !ok {
		return
	}
	if db.Statement.Unscoped {
		return
	}

	tc, err := tenancy.FromContext(db.Statement.Context)
	if err != nil {
		_ = db.AddError(shared.ErrTenantContextMissing)
		return
	}

	if c.hasTenantFilter(db, binding, tc) {
		return
	}

	db.Statement.AddClause(clause.Where{Exprs: []clause.Expression{c.filterExpr(binding, tc)}})
}

// filterExpr builds the tenant condition for one binding.
func (c *Callbacks) filterExpr(binding Binding, tc tenancy.TenantContext) clause.Expression {
	if binding.Via == nil {
		return clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: binding.Column},
			Value:  tc.ID.String(),
		}
	}
	v := binding.Via
	return clause.Expr{
		SQL:  fmt.Sprintf("%q IN (SELECT %q FROM %q WHERE %q = ?)", v.LocalColumn, v.ParentKey, v.ParentTable, v.TenantColumn),
		Vars: []interface{}{tc.ID.String()},
	}
}

// hasTenantFilter reports whether the statement already carries this exact
// tenant condition, which happens when a query funnels through the gateway
// and the callback both. Conditions naming a different tenant do not count.
func (c *Callbacks) hasTenantFilter(db *gorm.DB, binding Binding, tc tenancy.TenantContext) bool {
	whereClause, ok := db.Statement.Clauses["WHERE"]
	if !ok {
		return false
	}
	where, ok := whereClause.Expression.(clause.Where)
	if !ok {
		return false
	}
	want := c.filterExpr(binding, tc)
	for _, expr := range where.Exprs {
		if exprMatches(expr, want) {
			return true
		}
	}
	return false
}

func exprMatches(expr, want clause.Expression) bool {
	switch e := expr.(type) {
	case clause.AndConditions:
		for _, sub := range e.Exprs {
			if exprMatches(sub, want) {
				return true
			}
		}
	case clause.Eq:
		if w, ok := want.(clause.Eq); ok {
			return e == w
		}
	case clause.Expr:
		if w, ok := want.(clause.Expr); ok {
			return e.SQL == w.SQL && len(e.Vars) == 1 && len(w.Vars) == 1 && e.Vars[0] == w.Vars[0]
		}
	}
	return false
}

// stampTenant fills the tenant column on create, or rejects the write when the
// caller pre-set a different tenant. Tables scoped through a parent have no
// column to stamp; their parent check happens in the gateway before the
// insert is issued.
func (c *Callbacks) stampTenant(db *gorm.DB) {
	binding, ok := c.registry.Binding(db.Statement.Table)
	if !ok || binding.Via != nil {
		return
	}
	if db.Statement.Schema == nil {
		return
	}
	field := db.Statement.Schema.LookUpField(binding.Column)
	if field == nil {
		return
	}

	tc, err := tenancy.FromContext(db.Statement.Context)
	if err != nil {
		_ = db.AddError(shared.ErrTenantContextMissing)
		return
	}

	switch db.Statement.ReflectValue.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < db.Statement.ReflectValue.Len(); i++ {
			if err := c.stampOne(db, field, db.Statement.ReflectValue.Index(i), tc); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	case reflect.Struct:
		if err := c.stampOne(db, field, db.Statement.ReflectValue, tc); err != nil {
			_ = db.AddError(err)
		}
	}
}

func (c *Callbacks) stampOne(db *gorm.DB, field *schema.Field, rv reflect.Value, tc tenancy.TenantContext) error {
	for rv.Kind() == reflect.Ptr {
		rv = rv.Elem()
	}
	cur, isZero := field.ValueOf(db.Statement.Context, rv)
	if isZero {
		return field.Set(db.Statement.Context, rv, tc.ID)
	}
	if !sameTenant(cur, tc.ID) {
		return shared.ErrCrossTenantAccess
	}
	return nil
}

func sameTenant(value interface{}, id uuid.UUID) bool {
	switch v := value.(type) {
	case uuid.UUID:
		return v == id
	case string:
		return v == id.String()
	default:
		return fmt.Sprint(v) == id.String()
	}
}
