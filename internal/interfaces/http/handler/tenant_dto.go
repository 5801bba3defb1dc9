package handler

import (
	"time"

	"github.com/admetric/backend/internal/domain/identity"
)

// CreateTenantRequest is the payload for onboarding a tenant.
type CreateTenantRequest struct {
	Slug string `json:"slug" binding:"required"`
	Name string `json:"name" binding:"required"`
}

// ChangePlanRequest moves a tenant to another subscription plan.
type ChangePlanRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// MigrateDataRequest copies tables from this tenant's schema into another's.
type MigrateDataRequest struct {
	TargetSlug string   `json:"target_slug" binding:"required"`
	Tables     []string `json:"tables" binding:"required,min=1"`
}

// TenantResponse is the wire shape of a catalog tenant.
type TenantResponse struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Plan      string    `json:"plan"`
	Schema    string    `json:"schema"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toTenantResponse(t *identity.Tenant) TenantResponse {
	return TenantResponse{
		ID:        t.ID.String(),
		Slug:      t.Slug,
		Name:      t.Name,
		Status:    string(t.Status),
		Plan:      string(t.Plan),
		Schema:    t.SchemaName(),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// ResourceQuotaStatus is the quota state of one resource for a tenant.
type ResourceQuotaStatus struct {
	Limited   bool   `json:"limited"`
	Limit     int    `json:"limit,omitempty"`
	Remaining int    `json:"remaining,omitempty"`
	ResetTime string `json:"reset_time,omitempty"`
}
