package logger

import (
	"context"
	"testing"

	"github.com/admetric/backend/internal/tenancy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestFromContext(t *testing.T) {
	t.Run("returns attached logger", func(t *testing.T) {
		l := zap.NewNop()
		ctx := WithContext(context.Background(), l)
		assert.Same(t, l, FromContext(ctx))
	})

	t.Run("returns no-op logger when absent", func(t *testing.T) {
		assert.NotNil(t, FromContext(context.Background()))
	})
}

func TestGetTenantFields(t *testing.T) {
	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	ctx := tenancy.WithTenant(context.Background(), tc)

	assert.Equal(t, tc.ID.String(), GetTenantID(ctx))
	assert.Equal(t, "acme", GetTenantSlug(ctx))
	assert.Empty(t, GetTenantID(context.Background()))
}

func TestContextLoggerEnrichment(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := zap.New(core)

	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)

	ctx := WithContext(context.Background(), l)
	ctx = tenancy.WithTenant(ctx, tc)
	ctx, _ = WithRequestID(ctx, FromContext(ctx), "req-123")

	L(ctx).Info("scoped operation")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, tc.ID.String(), fields["tenant_id"])
	assert.Equal(t, "acme", fields["tenant_slug"])
	assert.Equal(t, "req-123", fields["request_id"])
}

func TestNewHonorsLevel(t *testing.T) {
	l, err := New(&Config{Level: "warn", Format: "json", Output: "stdout", TimeFormat: "2006-01-02"})
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zap.InfoLevel))
	assert.True(t, l.Core().Enabled(zap.WarnLevel))
}
