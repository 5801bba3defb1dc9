package identity

import (
	"testing"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTenant(t *testing.T) {
	t.Run("creates active free tenant", func(t *testing.T) {
		tenant, err := NewTenant("acme", "Acme Corp")
		require.NoError(t, err)

		assert.Equal(t, "acme", tenant.Slug)
		assert.Equal(t, TenantStatusActive, tenant.Status)
		assert.Equal(t, TenantPlanFree, tenant.Plan)
		assert.Equal(t, "tenant_acme", tenant.SchemaName())
	})

	t.Run("normalizes slug", func(t *testing.T) {
		tenant, err := NewTenant("  acme  ", "Acme Corp")
		require.NoError(t, err)
		assert.Equal(t, "acme", tenant.Slug)
	})

	t.Run("rejects invalid slug", func(t *testing.T) {
		_, err := NewTenant("Acme Inc!", "Acme")
		var derr *shared.DomainError
		require.ErrorAs(t, err, &derr)
		assert.Equal(t, "INVALID_SLUG", derr.Code)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		_, err := NewTenant("acme", "")
		assert.Error(t, err)
	})
}

func TestTenantLifecycle(t *testing.T) {
	tenant, err := NewTenant("acme", "Acme Corp")
	require.NoError(t, err)

	require.NoError(t, tenant.Suspend())
	assert.False(t, tenant.IsActive())

	require.NoError(t, tenant.Activate())
	assert.True(t, tenant.IsActive())

	tenant.Status = TenantStatusDeleted
	assert.ErrorIs(t, tenant.Activate(), shared.ErrInvalidState)
	assert.ErrorIs(t, tenant.Suspend(), shared.ErrInvalidState)
}

func TestChangePlan(t *testing.T) {
	tenant, err := NewTenant("acme", "Acme Corp")
	require.NoError(t, err)

	require.NoError(t, tenant.ChangePlan(TenantPlanProfessional))
	assert.Equal(t, TenantPlanProfessional, tenant.Plan)

	assert.Error(t, tenant.ChangePlan(TenantPlan("platinum")))
}

func TestTenantContext(t *testing.T) {
	tenant, err := NewTenant("acme", "Acme Corp")
	require.NoError(t, err)

	tc, err := tenant.Context()
	require.NoError(t, err)
	assert.Equal(t, tenant.ID, tc.ID)
	assert.Equal(t, "tenant_acme", tc.Schema)
}
