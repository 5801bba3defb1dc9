package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestNewGovernanceMetricsRequiresMeter(t *testing.T) {
	_, err := NewGovernanceMetrics(GovernanceMetricsConfig{})
	assert.ErrorIs(t, err, ErrMeterNil)
}

func TestGovernanceMetricsRecord(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	gm, err := NewGovernanceMetrics(GovernanceMetricsConfig{
		Meter: provider.Meter("test"),
	})
	require.NoError(t, err)

	ctx := context.Background()
	gm.RecordRateLimitDecision(ctx, "acme", "free", "api", true, false)
	gm.RecordRateLimitDecision(ctx, "acme", "free", "api", false, false)
	gm.RecordRateLimitDecision(ctx, "acme", "free", "api", true, true)
	gm.RecordCacheAccess(ctx, "acme", true)
	gm.RecordCacheAccess(ctx, "acme", false)
	gm.RecordSchemaProvisioned(ctx, "tenant_acme", 250*time.Millisecond)
	gm.RecordSchemaDropped(ctx, "tenant_acme")
	gm.RecordCrossTenantDenied(ctx, "acme")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, "governance_ratelimit_decisions_total")
	assert.Contains(t, names, "governance_cache_hits_total")
	assert.Contains(t, names, "governance_schema_provision_duration_seconds")
}
