package middleware

import (
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig holds configuration for the tracing middleware.
type TracingConfig struct {
	ServiceName string
	Enabled     bool
}

// Tracing returns OpenTelemetry tracing middleware. It wraps otelgin and adds
// request_id to the server span. Tenant attributes are added separately by
// TenantSpanAttributes, which has to run after tenant resolution.
func Tracing(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	base := otelgin.Middleware(cfg.ServiceName)
	return func(c *gin.Context) {
		base(c)

		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if requestID := c.GetString(RequestIDContextKey); requestID != "" {
				span.SetAttributes(attribute.String("request_id", requestID))
			}
		}
	}
}

// TenantSpanAttributes stamps the resolved tenant onto the server span.
// Placed after the tenant middleware in the chain.
func TenantSpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if tc, ok := tenancy.FromContextOrZero(c.Request.Context()); ok {
				span.SetAttributes(
					attribute.String("tenant_id", tc.ID.String()),
					attribute.String("tenant_slug", tc.Slug),
				)
			}
		}
		c.Next()
	}
}
