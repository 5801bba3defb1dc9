package middleware

import (
	"net/http"
	"strconv"

	"github.com/admetric/backend/internal/infrastructure/ratelimit"
	"github.com/admetric/backend/internal/infrastructure/telemetry"
	"github.com/admetric/backend/internal/interfaces/http/dto"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
)

// RateLimitConfig holds configuration for the quota enforcement middleware.
type RateLimitConfig struct {
	Enabled bool
	Limiter *ratelimit.Limiter
	// Metrics records quota decisions; optional.
	Metrics *telemetry.GovernanceMetrics
	// Resource maps a request to the resource type it consumes. Defaults to
	// the general API quota.
	Resource func(c *gin.Context) string
}

// RateLimit enforces the bound tenant's plan quota. Requests without a tenant
// binding pass through untouched; the tenant middleware already decided those
// paths run tenant-free.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	if !cfg.Enabled || cfg.Limiter == nil {
		return func(c *gin.Context) { c.Next() }
	}
	resourceFor := cfg.Resource
	if resourceFor == nil {
		resourceFor = func(*gin.Context) string { return ratelimit.ResourceAPI }
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		tc, ok := tenancy.FromContextOrZero(ctx)
		if !ok {
			c.Next()
			return
		}

		plan := GetTenantPlan(c)
		resource := resourceFor(c)
		res := cfg.Limiter.Consume(ctx, tc, plan, resource)

		if cfg.Metrics != nil {
			cfg.Metrics.RecordRateLimitDecision(ctx, tc.Slug, plan, resource, res.Allowed, res.FailOpen)
		}

		if res.Limit > 0 {
			c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			c.Header("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
		}

		if !res.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, dto.NewErrorResponseWithRequestID(
				dto.ErrCodeRateLimitExceeded,
				"Too many requests. Please try again later.",
				c.GetString(RequestIDContextKey)))
			return
		}

		c.Next()
	}
}

// ResourceByRoute maps request routes to quota resource types. Routes not
// matched by any prefix consume the general API quota.
func ResourceByRoute(prefixes map[string]string) func(c *gin.Context) string {
	return func(c *gin.Context) string {
		path := c.Request.URL.Path
		for prefix, resource := range prefixes {
			if path == prefix || len(path) > len(prefix) && path[:len(prefix)+1] == prefix+"/" {
				return resource
			}
		}
		return ratelimit.ResourceAPI
	}
}
