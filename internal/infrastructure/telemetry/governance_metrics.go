package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics constructor is given no meter.
var ErrMeterNil = errors.New("meter must not be nil")

// GovernanceMetrics tracks the isolation and quota machinery: rate limit
// decisions, cache effectiveness and schema lifecycle. Tenant slug is the
// cardinality key, not tenant ID, because slugs are what operators search by.
type GovernanceMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	rateLimitDecisions *Counter
	rateLimitFailOpen  *Counter
	cacheHits          *Counter
	cacheMisses        *Counter
	schemasProvisioned *Counter
	schemasDropped     *Counter
	provisionDuration  *Histogram
	crossTenantDenied  *Counter
}

// GovernanceMetricsConfig holds configuration for governance metrics.
type GovernanceMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
}

// NewGovernanceMetrics creates a new GovernanceMetrics instance.
func NewGovernanceMetrics(cfg GovernanceMetricsConfig) (*GovernanceMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	gm := &GovernanceMetrics{meter: cfg.Meter, logger: logger}

	var err error
	gm.rateLimitDecisions, err = NewCounter(cfg.Meter,
		"governance_ratelimit_decisions_total",
		"Total rate limit decisions",
		"{decisions}")
	if err != nil {
		return nil, err
	}
	gm.rateLimitFailOpen, err = NewCounter(cfg.Meter,
		"governance_ratelimit_failopen_total",
		"Rate limit decisions made without the counter store",
		"{decisions}")
	if err != nil {
		return nil, err
	}
	gm.cacheHits, err = NewCounter(cfg.Meter,
		"governance_cache_hits_total",
		"Tenant cache hits",
		"{hits}")
	if err != nil {
		return nil, err
	}
	gm.cacheMisses, err = NewCounter(cfg.Meter,
		"governance_cache_misses_total",
		"Tenant cache misses",
		"{misses}")
	if err != nil {
		return nil, err
	}
	gm.schemasProvisioned, err = NewCounter(cfg.Meter,
		"governance_schemas_provisioned_total",
		"Tenant schemas provisioned",
		"{schemas}")
	if err != nil {
		return nil, err
	}
	gm.schemasDropped, err = NewCounter(cfg.Meter,
		"governance_schemas_dropped_total",
		"Tenant schemas dropped",
		"{schemas}")
	if err != nil {
		return nil, err
	}
	gm.provisionDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "governance_schema_provision_duration_seconds",
		Description: "Duration of tenant schema provisioning",
		Unit:        "s",
		Boundaries:  ProvisionDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	gm.crossTenantDenied, err = NewCounter(cfg.Meter,
		"governance_cross_tenant_denied_total",
		"Writes rejected for targeting another tenant's data",
		"{rejections}")
	if err != nil {
		return nil, err
	}

	return gm, nil
}

// RecordRateLimitDecision records one quota decision.
func (gm *GovernanceMetrics) RecordRateLimitDecision(ctx context.Context, slug, plan, resource string, allowed, failOpen bool) {
	attrs := []attribute.KeyValue{
		AttrTenantSlug.String(slug),
		AttrPlan.String(plan),
		AttrResource.String(resource),
		attribute.Bool("allowed", allowed),
	}
	gm.rateLimitDecisions.Inc(ctx, attrs...)
	if failOpen {
		gm.rateLimitFailOpen.Inc(ctx, attrs...)
	}
}

// RecordCacheAccess records one tenant cache lookup.
func (gm *GovernanceMetrics) RecordCacheAccess(ctx context.Context, slug string, hit bool) {
	if hit {
		gm.cacheHits.Inc(ctx, AttrTenantSlug.String(slug))
		return
	}
	gm.cacheMisses.Inc(ctx, AttrTenantSlug.String(slug))
}

// RecordSchemaProvisioned records a completed schema provisioning.
func (gm *GovernanceMetrics) RecordSchemaProvisioned(ctx context.Context, schema string, took time.Duration) {
	gm.schemasProvisioned.Inc(ctx, AttrSchema.String(schema))
	gm.provisionDuration.RecordDuration(ctx, took, AttrSchema.String(schema))
}

// RecordSchemaDropped records a schema drop.
func (gm *GovernanceMetrics) RecordSchemaDropped(ctx context.Context, schema string) {
	gm.schemasDropped.Inc(ctx, AttrSchema.String(schema))
}

// RecordCrossTenantDenied records a rejected cross-tenant write.
func (gm *GovernanceMetrics) RecordCrossTenantDenied(ctx context.Context, slug string) {
	gm.crossTenantDenied.Inc(ctx, AttrTenantSlug.String(slug))
}
