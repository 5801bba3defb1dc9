package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/admetric/backend/internal/domain/identity"
	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/infrastructure/cache"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/infrastructure/ratelimit"
	"github.com/admetric/backend/internal/infrastructure/telemetry"
	"github.com/admetric/backend/internal/interfaces/http/dto"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SchemaManager is the slice of the schema router the tenant surface needs.
type SchemaManager interface {
	EnsureSchema(ctx context.Context, tc tenancy.TenantContext) error
	DropSchema(ctx context.Context, tc tenancy.TenantContext) error
	MigrateData(ctx context.Context, from, to tenancy.TenantContext, tables []string) error
}

// QuotaManager is the slice of the rate limiter the tenant surface needs.
type QuotaManager interface {
	Check(ctx context.Context, tc tenancy.TenantContext, plan, resource string, opts ...ratelimit.ConsumeOption) ratelimit.Result
	Reset(ctx context.Context, tc tenancy.TenantContext, plan, resource string, opts ...ratelimit.ConsumeOption) error
}

// TenantHandler serves the tenant administration surface: onboarding,
// lifecycle, plan changes, quota and cache operations. It lives outside the
// tenant-scoped API; callers address tenants by slug.
type TenantHandler struct {
	BaseHandler
	tenants identity.TenantRepository
	schemas SchemaManager
	quotas  QuotaManager
	cache   cache.TenantCache
	metrics *telemetry.GovernanceMetrics
}

// TenantHandlerOption configures a TenantHandler.
type TenantHandlerOption func(*TenantHandler)

// WithGovernanceMetrics records schema lifecycle events.
func WithGovernanceMetrics(m *telemetry.GovernanceMetrics) TenantHandlerOption {
	return func(h *TenantHandler) { h.metrics = m }
}

// NewTenantHandler creates a new TenantHandler.
func NewTenantHandler(tenants identity.TenantRepository, schemas SchemaManager, quotas QuotaManager, tenantCache cache.TenantCache, opts ...TenantHandlerOption) *TenantHandler {
	h := &TenantHandler{
		tenants: tenants,
		schemas: schemas,
		quotas:  quotas,
		cache:   tenantCache,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers the tenant administration routes.
func (h *TenantHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tenants := rg.Group("/tenants")
	tenants.POST("", h.Create)
	tenants.GET("", h.List)
	tenants.GET("/:slug", h.Get)
	tenants.POST("/:slug/suspend", h.Suspend)
	tenants.POST("/:slug/activate", h.Activate)
	tenants.PUT("/:slug/plan", h.ChangePlan)
	tenants.DELETE("/:slug", h.Decommission)
	tenants.POST("/:slug/migrate", h.MigrateData)
	tenants.GET("/:slug/quota", h.QuotaStatus)
	tenants.DELETE("/:slug/quota/:resource", h.ResetQuota)
	tenants.GET("/:slug/cache/stats", h.CacheStats)
	tenants.DELETE("/:slug/cache", h.ClearCache)
	tenants.DELETE("/:slug/cache/tags/:tag", h.InvalidateCacheTag)
}

// lookup resolves the slug path parameter to a catalog tenant and its context.
func (h *TenantHandler) lookup(c *gin.Context) (*identity.Tenant, tenancy.TenantContext, bool) {
	slug := strings.ToLower(strings.TrimSpace(c.Param("slug")))
	tenant, err := h.tenants.FindBySlug(c.Request.Context(), slug)
	if err != nil {
		h.HandleError(c, err)
		return nil, tenancy.TenantContext{}, false
	}
	tc, err := tenant.Context()
	if err != nil {
		h.HandleError(c, err)
		return nil, tenancy.TenantContext{}, false
	}
	return tenant, tc, true
}

// Create onboards a tenant: catalog row plus a provisioned schema. The row is
// saved only after the schema exists, so an active catalog entry always has
// storage behind it; a schema left behind by a failed save is reclaimed by the
// idempotent provisioning on retry.
func (h *TenantHandler) Create(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}

	ctx := c.Request.Context()
	tenant, err := identity.NewTenant(req.Slug, req.Name)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if _, err := h.tenants.FindBySlug(ctx, tenant.Slug); err == nil {
		h.Error(c, http.StatusConflict, dto.ErrCodeAlreadyExists, "Tenant slug already taken")
		return
	} else if !errors.Is(err, shared.ErrNotFound) {
		h.HandleError(c, err)
		return
	}

	tc, err := tenant.Context()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	start := time.Now()
	if err := h.schemas.EnsureSchema(ctx, tc); err != nil {
		h.HandleError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSchemaProvisioned(ctx, tc.Schema, time.Since(start))
	}

	if err := h.tenants.Save(ctx, tenant); err != nil {
		h.HandleError(c, err)
		return
	}

	logger.L(ctx).Info("tenant onboarded",
		zap.String("slug", tenant.Slug),
		zap.String("schema", tc.Schema))
	h.Created(c, toTenantResponse(tenant))
}

// List returns every catalog tenant.
func (h *TenantHandler) List(c *gin.Context) {
	tenants, err := h.tenants.List(c.Request.Context())
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]TenantResponse, 0, len(tenants))
	for _, t := range tenants {
		out = append(out, toTenantResponse(t))
	}
	h.Success(c, out)
}

// Get returns one tenant by slug.
func (h *TenantHandler) Get(c *gin.Context) {
	tenant, _, ok := h.lookup(c)
	if !ok {
		return
	}
	h.Success(c, toTenantResponse(tenant))
}

// Suspend takes the tenant out of service without touching its data.
func (h *TenantHandler) Suspend(c *gin.Context) {
	h.transition(c, func(t *identity.Tenant) error { return t.Suspend() })
}

// Activate returns a suspended tenant to service.
func (h *TenantHandler) Activate(c *gin.Context) {
	h.transition(c, func(t *identity.Tenant) error { return t.Activate() })
}

func (h *TenantHandler) transition(c *gin.Context, apply func(*identity.Tenant) error) {
	tenant, _, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := apply(tenant); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.tenants.Save(c.Request.Context(), tenant); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTenantResponse(tenant))
}

// ChangePlan moves the tenant to a different subscription plan. Quota changes
// take effect on the next window; the current one keeps its counters.
func (h *TenantHandler) ChangePlan(c *gin.Context) {
	var req ChangePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	tenant, _, ok := h.lookup(c)
	if !ok {
		return
	}
	if err := tenant.ChangePlan(identity.TenantPlan(req.Plan)); err != nil {
		h.HandleError(c, err)
		return
	}
	if err := h.tenants.Save(c.Request.Context(), tenant); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, toTenantResponse(tenant))
}

// Decommission drops the tenant's schema and cache namespace and marks the
// catalog row deleted. The row is kept for audit.
func (h *TenantHandler) Decommission(c *gin.Context) {
	tenant, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if h.cache != nil {
		if err := h.cache.ClearTenant(tenancy.WithTenant(ctx, tc)); err != nil {
			// Cache is best effort during decommission; entries expire anyway.
			logger.L(ctx).Warn("failed to clear tenant cache during decommission",
				zap.String("slug", tenant.Slug),
				zap.Error(err))
		}
	}

	if err := h.schemas.DropSchema(ctx, tc); err != nil {
		h.HandleError(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.RecordSchemaDropped(ctx, tc.Schema)
	}

	tenant.MarkDeleted()
	if err := h.tenants.Save(ctx, tenant); err != nil {
		h.HandleError(c, err)
		return
	}

	logger.L(ctx).Warn("tenant decommissioned",
		zap.String("slug", tenant.Slug),
		zap.String("schema", tc.Schema))
	h.Success(c, toTenantResponse(tenant))
}

// MigrateData copies tables from this tenant's schema into another tenant's.
// Used for consolidation and environment moves; re-running a partial copy is
// safe.
func (h *TenantHandler) MigrateData(c *gin.Context) {
	var req MigrateDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BadRequest(c, "Invalid request body: "+err.Error())
		return
	}
	_, from, ok := h.lookup(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	target, err := h.tenants.FindBySlug(ctx, strings.ToLower(strings.TrimSpace(req.TargetSlug)))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	to, err := target.Context()
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if err := h.schemas.MigrateData(ctx, from, to, req.Tables); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"migrated_tables": req.Tables, "target": target.Slug})
}

// QuotaStatus previews the tenant's quota state for every resource type
// without consuming anything.
func (h *TenantHandler) QuotaStatus(c *gin.Context) {
	tenant, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	plan := string(tenant.Plan)

	resources := []string{
		ratelimit.ResourceAPI,
		ratelimit.ResourceCampaigns,
		ratelimit.ResourceMessaging,
		ratelimit.ResourceExports,
		ratelimit.ResourceWebhooks,
	}
	out := make(map[string]ResourceQuotaStatus, len(resources))
	for _, resource := range resources {
		res := h.quotas.Check(ctx, tc, plan, resource)
		if res.Limit == 0 {
			out[resource] = ResourceQuotaStatus{Limited: false}
			continue
		}
		out[resource] = ResourceQuotaStatus{
			Limited:   true,
			Limit:     res.Limit,
			Remaining: res.Remaining,
			ResetTime: res.ResetTime.Format(time.RFC3339),
		}
	}
	h.Success(c, gin.H{"plan": plan, "resources": out})
}

// ResetQuota restores the tenant's full quota for one resource immediately.
func (h *TenantHandler) ResetQuota(c *gin.Context) {
	tenant, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	resource := c.Param("resource")
	if err := h.quotas.Reset(c.Request.Context(), tc, string(tenant.Plan), resource); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, gin.H{"resource": resource, "reset": true})
}

// CacheStats returns the tenant's cache hit/miss counters on this instance.
func (h *TenantHandler) CacheStats(c *gin.Context) {
	_, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.cache == nil {
		h.Success(c, cache.CacheStats{})
		return
	}
	stats, err := h.cache.Stats(tenancy.WithTenant(c.Request.Context(), tc))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, stats)
}

// ClearCache flushes the tenant's entire cache namespace.
func (h *TenantHandler) ClearCache(c *gin.Context) {
	_, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.cache != nil {
		if err := h.cache.ClearTenant(tenancy.WithTenant(c.Request.Context(), tc)); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	h.NoContent(c)
}

// InvalidateCacheTag removes every cached entry carrying the tag, within the
// tenant's namespace only.
func (h *TenantHandler) InvalidateCacheTag(c *gin.Context) {
	_, tc, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.cache != nil {
		if err := h.cache.InvalidateByTag(tenancy.WithTenant(c.Request.Context(), tc), c.Param("tag")); err != nil {
			h.HandleError(c, err)
			return
		}
	}
	h.NoContent(c)
}
