// Package tenancy establishes and carries tenant identity for the lifetime of
// one logical operation.
//
// A TenantContext is bound to a context.Context once, by whatever resolved the
// tenant (HTTP middleware, a job runner), and every downstream component that
// needs isolation (schema router, scoped gateway, rate limiter, tenant cache)
// reads it back with FromContext. Because Go context values travel with the
// logical call chain rather than the goroutine, the binding survives database
// round-trips, cache calls and queued continuations.
//
// Usage:
//
//	ctx = tenancy.WithTenant(ctx, tc)
//	tc, err := tenancy.FromContext(ctx) // ErrTenantContextMissing if unbound
package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrTenantContextMissing is returned when a tenant-scoped operation runs
// without a bound TenantContext. This is a programming error in the caller,
// never a user-facing condition, and must not be swallowed.
var ErrTenantContextMissing = errors.New("no tenant context bound to this operation")

// ErrInvalidTenantSlug is returned when a slug cannot be used to derive a
// schema name.
var ErrInvalidTenantSlug = errors.New("invalid tenant slug")

// SchemaPrefix is prepended to a tenant slug to derive its schema name.
const SchemaPrefix = "tenant_"

// TenantContext identifies the tenant an operation acts on behalf of.
// It is immutable for the duration of the operation and never persisted.
type TenantContext struct {
	ID     uuid.UUID
	Slug   string
	Schema string
}

// NewTenantContext builds a TenantContext, deriving the schema name from the
// slug. The derivation is pure, so any component can recompute it without a
// catalog lookup.
func NewTenantContext(id uuid.UUID, slug string) (TenantContext, error) {
	if id == uuid.Nil {
		return TenantContext{}, fmt.Errorf("%w: nil tenant id", ErrInvalidTenantSlug)
	}
	if !ValidSlug(slug) {
		return TenantContext{}, fmt.Errorf("%w: %q", ErrInvalidTenantSlug, slug)
	}
	return TenantContext{
		ID:     id,
		Slug:   slug,
		Schema: SchemaName(slug),
	}, nil
}

// SchemaName derives the storage schema name for a tenant slug.
func SchemaName(slug string) string {
	return SchemaPrefix + slug
}

// ValidSlug reports whether slug is safe to embed in a schema name.
// Lowercase letters, digits and underscores only; must start with a letter.
// The restriction exists because the schema name ends up in DDL statements
// where it cannot be bound as a parameter.
func ValidSlug(slug string) bool {
	if len(slug) == 0 || len(slug) > 48 {
		return false
	}
	for i, r := range slug {
		switch {
		case r >= 'a' && r <= 'z':
		case r == '_' && i > 0:
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

type contextKey struct{}

// WithTenant binds tc to the returned context. Binding a different tenant on
// a derived context creates an inner scope; the outer context is untouched,
// so callers get stack discipline for free.
func WithTenant(ctx context.Context, tc TenantContext) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext returns the bound TenantContext, or ErrTenantContextMissing.
func FromContext(ctx context.Context) (TenantContext, error) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	if !ok {
		return TenantContext{}, ErrTenantContextMissing
	}
	return tc, nil
}

// FromContextOrZero returns the bound TenantContext and whether one was bound.
// Use this on paths that legitimately run without a tenant (health checks,
// catalog maintenance).
func FromContextOrZero(ctx context.Context) (TenantContext, bool) {
	tc, ok := ctx.Value(contextKey{}).(TenantContext)
	return tc, ok
}

// MustFromContext returns the bound TenantContext or panics. Only for call
// sites where middleware guarantees a binding.
func MustFromContext(ctx context.Context) TenantContext {
	tc, err := FromContext(ctx)
	if err != nil {
		panic(err)
	}
	return tc
}

// RunWithTenant executes fn with tc bound for fn's entire call tree. On
// return the previous binding (if any) is visible again to the caller.
func RunWithTenant(ctx context.Context, tc TenantContext, fn func(ctx context.Context) error) error {
	return fn(WithTenant(ctx, tc))
}

// Detach returns a context that keeps the tenant binding but drops the
// parent's cancellation and deadline. Background continuations spawned from a
// request (cache refresh, usage flush) must use this instead of
// context.Background(), which would silently lose the tenant.
func Detach(ctx context.Context) context.Context {
	detached := context.WithoutCancel(ctx)
	if tc, ok := FromContextOrZero(ctx); ok {
		return WithTenant(detached, tc)
	}
	return detached
}
