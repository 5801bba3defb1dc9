// Package identity holds the shared tenant catalog: the one table that lives
// outside the per-tenant schemas and maps a slug to an organization, its plan
// and its lifecycle status.
package identity

import (
	"context"
	"strings"
	"time"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/google/uuid"
)

// TenantStatus represents the lifecycle status of a tenant
type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended" // payment/violation issues
	TenantStatusDeleted   TenantStatus = "deleted"   // schema dropped, row kept for audit
)

// TenantPlan represents the subscription plan of a tenant
type TenantPlan string

const (
	TenantPlanFree         TenantPlan = "free"
	TenantPlanStarter      TenantPlan = "starter"
	TenantPlanProfessional TenantPlan = "professional"
	TenantPlanEnterprise   TenantPlan = "enterprise"
)

// ValidPlan reports whether p names a known plan.
func ValidPlan(p TenantPlan) bool {
	switch p {
	case TenantPlanFree, TenantPlanStarter, TenantPlanProfessional, TenantPlanEnterprise:
		return true
	}
	return false
}

// Tenant represents one customer organization in the shared catalog.
type Tenant struct {
	ID        uuid.UUID    `gorm:"type:uuid;primaryKey"`
	Slug      string       `gorm:"type:varchar(48);not null;uniqueIndex"`
	Name      string       `gorm:"type:varchar(200);not null"`
	Status    TenantStatus `gorm:"type:varchar(20);not null;default:'active'"`
	Plan      TenantPlan   `gorm:"type:varchar(20);not null;default:'free'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName returns the table name for GORM
func (Tenant) TableName() string {
	return "tenants"
}

// NewTenant creates a new active tenant on the free plan.
func NewTenant(slug, name string) (*Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if !tenancy.ValidSlug(slug) {
		return nil, shared.NewDomainError("INVALID_SLUG", "Tenant slug must be lowercase letters, digits and underscores")
	}
	if name == "" || len(name) > 200 {
		return nil, shared.NewDomainError("INVALID_NAME", "Tenant name must be 1-200 characters")
	}
	now := time.Now()
	return &Tenant{
		ID:        uuid.New(),
		Slug:      slug,
		Name:      name,
		Status:    TenantStatusActive,
		Plan:      TenantPlanFree,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SchemaName returns the tenant's storage schema name, derived from the slug.
func (t *Tenant) SchemaName() string {
	return tenancy.SchemaName(t.Slug)
}

// Context builds the TenantContext used to bind this tenant to an operation.
func (t *Tenant) Context() (tenancy.TenantContext, error) {
	return tenancy.NewTenantContext(t.ID, t.Slug)
}

// IsActive reports whether the tenant may serve traffic.
func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}

// Suspend marks the tenant as suspended.
func (t *Tenant) Suspend() error {
	if t.Status == TenantStatusDeleted {
		return shared.ErrInvalidState
	}
	t.Status = TenantStatusSuspended
	t.UpdatedAt = time.Now()
	return nil
}

// Activate returns a suspended tenant to service.
func (t *Tenant) Activate() error {
	if t.Status == TenantStatusDeleted {
		return shared.ErrInvalidState
	}
	t.Status = TenantStatusActive
	t.UpdatedAt = time.Now()
	return nil
}

// MarkDeleted records that the tenant has been decommissioned. The catalog
// row survives for audit; the schema is gone.
func (t *Tenant) MarkDeleted() {
	t.Status = TenantStatusDeleted
	t.UpdatedAt = time.Now()
}

// ChangePlan moves the tenant to a different subscription plan.
func (t *Tenant) ChangePlan(plan TenantPlan) error {
	if !ValidPlan(plan) {
		return shared.NewDomainError("INVALID_PLAN", "Unknown subscription plan")
	}
	t.Plan = plan
	t.UpdatedAt = time.Now()
	return nil
}

// TenantRepository provides access to the shared tenant catalog.
// Implementations run against the catalog connection, never a tenant schema.
type TenantRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*Tenant, error)
	FindBySlug(ctx context.Context, slug string) (*Tenant, error)
	Save(ctx context.Context, tenant *Tenant) error
	List(ctx context.Context) ([]*Tenant, error)
}
