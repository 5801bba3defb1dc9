// Package scope enforces tenant isolation on the data path.
//
// Tables register how they carry their tenant identifier, either a direct
// tenant column or a single hop through a parent table. GORM callbacks then
// inject the matching filter into every query, update and delete, and stamp
// the tenant on create. Schema-per-tenant routing is the first fence; this
// package is the second, so a query that somehow reaches the wrong schema
// still returns nothing that belongs to another tenant.
package scope

import (
	"fmt"
)

// Relation describes transitive ownership: the table has no tenant column of
// its own and inherits the tenant of its parent row. Only one hop is
// supported; deeper chains are rejected at registry construction.
type Relation struct {
	LocalColumn  string // FK column on this table, e.g. campaign_id
	ParentTable  string // table the FK points at, e.g. campaigns
	ParentKey    string // key column on the parent, e.g. id
	TenantColumn string // tenant column on the parent, e.g. tenant_id
}

// Binding tells the gateway how one table is tenant-scoped.
// Exactly one of Column or Via is set.
type Binding struct {
	Column string
	Via    *Relation
}

// Registry maps table names to their tenant bindings. Tables absent from the
// registry are shared reference data and pass through unfiltered.
type Registry struct {
	bindings map[string]Binding
}

// NewRegistry validates and builds a Registry. A Via binding must point at a
// table that is itself registered with a direct column, which is what limits
// the chain to one hop.
func NewRegistry(bindings map[string]Binding) (*Registry, error) {
	for table, b := range bindings {
		switch {
		case b.Column != "" && b.Via != nil:
			return nil, fmt.Errorf("table %s: binding has both a column and a relation", table)
		case b.Column == "" && b.Via == nil:
			return nil, fmt.Errorf("table %s: binding has neither a column nor a relation", table)
		case b.Via != nil:
			v := b.Via
			if v.LocalColumn == "" || v.ParentTable == "" || v.ParentKey == "" || v.TenantColumn == "" {
				return nil, fmt.Errorf("table %s: incomplete relation", table)
			}
			parent, ok := bindings[v.ParentTable]
			if !ok {
				return nil, fmt.Errorf("table %s: relation parent %s is not registered", table, v.ParentTable)
			}
			if parent.Column == "" {
				return nil, fmt.Errorf("table %s: relation parent %s is not directly scoped, chains deeper than one hop are not supported", table, v.ParentTable)
			}
			if parent.Column != v.TenantColumn {
				return nil, fmt.Errorf("table %s: relation tenant column %s does not match parent binding %s", table, v.TenantColumn, parent.Column)
			}
		}
	}
	return &Registry{bindings: bindings}, nil
}

// MustNewRegistry is NewRegistry for statically known bindings.
func MustNewRegistry(bindings map[string]Binding) *Registry {
	r, err := NewRegistry(bindings)
	if err != nil {
		panic(err)
	}
	return r
}

// Binding returns the binding for a table.
func (r *Registry) Binding(table string) (Binding, bool) {
	b, ok := r.bindings[table]
	return b, ok
}

// Tables returns the registered table names.
func (r *Registry) Tables() []string {
	out := make([]string, 0, len(r.bindings))
	for t := range r.bindings {
		out = append(out, t)
	}
	return out
}

// DefaultRegistry binds the baseline tenant schema tables. utm_links carries
// no tenant column and is scoped through its campaign.
func DefaultRegistry() *Registry {
	return MustNewRegistry(map[string]Binding{
		"campaigns":    {Column: "tenant_id"},
		"message_logs": {Column: "tenant_id"},
		"export_jobs":  {Column: "tenant_id"},
		"utm_links": {Via: &Relation{
			LocalColumn:  "campaign_id",
			ParentTable:  "campaigns",
			ParentKey:    "id",
			TenantColumn: "tenant_id",
		}},
	})
}
