// Package middleware provides the HTTP middleware stack: tenant resolution,
// quota enforcement, request correlation and the usual edge hardening.
package middleware

import (
	"net/http"
	"strings"

	"github.com/admetric/backend/internal/domain/identity"
	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/interfaces/http/dto"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Gin context keys set by the tenant middleware.
const (
	TenantIDKey     = "tenant_id"
	TenantSlugKey   = "tenant_slug"
	TenantPlanKey   = "tenant_plan"
	TenantHeaderKey = "X-Tenant-ID"
)

// TenantConfig holds configuration for the tenant resolution middleware.
type TenantConfig struct {
	// HeaderEnabled enables X-Tenant-ID header resolution. The header may
	// carry either the tenant's UUID or its slug.
	HeaderEnabled bool
	// SubdomainEnabled enables slug resolution from the request host.
	SubdomainEnabled bool
	// BaseDomain is the base domain for subdomain resolution (e.g. "admetric.io").
	BaseDomain string
	// SkipPaths are paths served without a tenant (health, admin surface).
	SkipPaths []string
	// Required rejects requests that resolve no tenant.
	Required bool
	// RequireActive rejects suspended and deleted tenants at the edge.
	RequireActive bool
	// Tenants is the catalog lookup, normally the cached repository.
	Tenants identity.TenantRepository
}

// DefaultSkipPaths are served without tenant resolution.
var DefaultSkipPaths = []string{
	"/health", "/healthz", "/ready", "/metrics",
	"/api/v1/system", "/api/v1/tenants",
}

// TenantConfigFrom builds middleware configuration from service configuration.
func TenantConfigFrom(cfg config.TenancyConfig, tenants identity.TenantRepository) TenantConfig {
	return TenantConfig{
		HeaderEnabled:    cfg.HeaderEnabled,
		SubdomainEnabled: cfg.SubdomainEnabled,
		BaseDomain:       cfg.BaseDomain,
		SkipPaths:        DefaultSkipPaths,
		Required:         true,
		RequireActive:    cfg.RequireActive,
		Tenants:          tenants,
	}
}

// Tenant resolves the tenant for each request and binds it to the request
// context. Resolution order: X-Tenant-ID header, then subdomain. Everything
// downstream (gateway, limiter, cache) reads the binding back with
// tenancy.FromContext; nothing else ever re-resolves the tenant.
func Tenant(cfg TenantConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		for _, skip := range cfg.SkipPaths {
			if path == skip || strings.HasPrefix(path, skip+"/") {
				c.Next()
				return
			}
		}

		identifier, method := extractIdentifier(c, cfg)
		if identifier == "" {
			if cfg.Required {
				respondTenantError(c, http.StatusUnauthorized,
					dto.ErrCodeTenantContextMissing, "Tenant identification required")
				return
			}
			c.Next()
			return
		}

		ctx := c.Request.Context()
		tenant, err := lookupTenant(c, cfg, identifier)
		if err != nil {
			logger.L(ctx).Warn("tenant resolution failed",
				zap.String("identifier", identifier),
				zap.String("method", method),
				zap.Error(err))
			respondTenantError(c, http.StatusUnauthorized,
				dto.ErrCodeUnauthorized, "Unknown tenant")
			return
		}

		if cfg.RequireActive && !tenant.IsActive() {
			respondTenantError(c, http.StatusForbidden,
				dto.ErrCodeTenantInactive, "Tenant is suspended or deleted")
			return
		}

		tc, err := tenant.Context()
		if err != nil {
			logger.L(ctx).Error("catalog row yields no tenant context",
				zap.String("slug", tenant.Slug),
				zap.Error(err))
			respondTenantError(c, http.StatusInternalServerError,
				dto.ErrCodeInternal, "Tenant resolution failed")
			return
		}

		c.Set(TenantIDKey, tc.ID.String())
		c.Set(TenantSlugKey, tc.Slug)
		c.Set(TenantPlanKey, string(tenant.Plan))
		c.Request = c.Request.WithContext(tenancy.WithTenant(ctx, tc))

		c.Next()
	}
}

// extractIdentifier pulls the tenant identifier out of the request.
func extractIdentifier(c *gin.Context, cfg TenantConfig) (identifier, method string) {
	if cfg.HeaderEnabled {
		if v := c.GetHeader(TenantHeaderKey); v != "" {
			return v, "header"
		}
	}
	if cfg.SubdomainEnabled && cfg.BaseDomain != "" {
		if v := extractTenantFromSubdomain(c.Request.Host, cfg.BaseDomain); v != "" {
			return v, "subdomain"
		}
	}
	return "", ""
}

// lookupTenant resolves an identifier against the catalog. A UUID is looked
// up by id, anything else by slug.
func lookupTenant(c *gin.Context, cfg TenantConfig, identifier string) (*identity.Tenant, error) {
	ctx := c.Request.Context()
	if id, err := uuid.Parse(identifier); err == nil {
		return cfg.Tenants.FindByID(ctx, id)
	}
	return cfg.Tenants.FindBySlug(ctx, identifier)
}

// extractTenantFromSubdomain extracts the tenant slug from the request host.
// "acme.admetric.io" with base domain "admetric.io" yields "acme".
func extractTenantFromSubdomain(host, baseDomain string) string {
	if idx := strings.Index(host, ":"); idx != -1 {
		host = host[:idx]
	}
	if !strings.HasSuffix(host, baseDomain) {
		return ""
	}
	subdomain := strings.TrimSuffix(host, "."+baseDomain)
	if subdomain == host || subdomain == "" || subdomain == "www" {
		return ""
	}
	parts := strings.Split(subdomain, ".")
	return parts[0]
}

func respondTenantError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, dto.NewErrorResponseWithRequestID(
		code, message, c.GetString(RequestIDContextKey)))
}

// GetTenantSlug retrieves the resolved tenant slug from gin.Context.
func GetTenantSlug(c *gin.Context) string {
	return c.GetString(TenantSlugKey)
}

// GetTenantPlan retrieves the resolved tenant plan from gin.Context, falling
// back to the free plan when unresolved.
func GetTenantPlan(c *gin.Context) string {
	if plan := c.GetString(TenantPlanKey); plan != "" {
		return plan
	}
	return string(identity.TenantPlanFree)
}
