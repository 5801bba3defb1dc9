package tenancy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTenant(t *testing.T, slug string) TenantContext {
	t.Helper()
	tc, err := NewTenantContext(uuid.New(), slug)
	require.NoError(t, err)
	return tc
}

func TestNewTenantContext(t *testing.T) {
	t.Run("derives schema name from slug", func(t *testing.T) {
		id := uuid.New()
		tc, err := NewTenantContext(id, "acme")
		require.NoError(t, err)

		assert.Equal(t, id, tc.ID)
		assert.Equal(t, "acme", tc.Slug)
		assert.Equal(t, "tenant_acme", tc.Schema)
	})

	t.Run("rejects nil tenant id", func(t *testing.T) {
		_, err := NewTenantContext(uuid.Nil, "acme")
		assert.ErrorIs(t, err, ErrInvalidTenantSlug)
	})

	t.Run("rejects slugs unsafe for DDL", func(t *testing.T) {
		for _, slug := range []string{"", "Acme", "a-b", "1acme", "_x", "a;drop", "a b"} {
			_, err := NewTenantContext(uuid.New(), slug)
			assert.ErrorIs(t, err, ErrInvalidTenantSlug, "slug %q", slug)
		}
	})

	t.Run("accepts underscores and digits after first char", func(t *testing.T) {
		tc, err := NewTenantContext(uuid.New(), "acme_2corp")
		require.NoError(t, err)
		assert.Equal(t, "tenant_acme_2corp", tc.Schema)
	})
}

func TestFromContext(t *testing.T) {
	t.Run("returns bound tenant", func(t *testing.T) {
		tc := newTestTenant(t, "acme")
		ctx := WithTenant(context.Background(), tc)

		got, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, tc, got)
	})

	t.Run("errors when nothing bound", func(t *testing.T) {
		_, err := FromContext(context.Background())
		assert.ErrorIs(t, err, ErrTenantContextMissing)
	})

	t.Run("FromContextOrZero reports absence without error", func(t *testing.T) {
		_, ok := FromContextOrZero(context.Background())
		assert.False(t, ok)
	})
}

func TestMustFromContext(t *testing.T) {
	t.Run("panics without binding", func(t *testing.T) {
		assert.Panics(t, func() {
			MustFromContext(context.Background())
		})
	})
}

func TestRunWithTenant(t *testing.T) {
	t.Run("binding covers the whole call tree", func(t *testing.T) {
		tc := newTestTenant(t, "acme")

		err := RunWithTenant(context.Background(), tc, func(ctx context.Context) error {
			inner := func(ctx context.Context) error {
				got, err := FromContext(ctx)
				if err != nil {
					return err
				}
				assert.Equal(t, tc.Slug, got.Slug)
				return nil
			}
			return inner(ctx)
		})
		require.NoError(t, err)
	})

	t.Run("nested scopes restore the outer binding", func(t *testing.T) {
		outer := newTestTenant(t, "acme")
		inner := newTestTenant(t, "globex")
		ctx := WithTenant(context.Background(), outer)

		err := RunWithTenant(ctx, inner, func(innerCtx context.Context) error {
			got, err := FromContext(innerCtx)
			require.NoError(t, err)
			assert.Equal(t, inner, got)
			return nil
		})
		require.NoError(t, err)

		// The caller's context still sees the outer tenant.
		got, err := FromContext(ctx)
		require.NoError(t, err)
		assert.Equal(t, outer, got)
	})
}

func TestConcurrentOperations(t *testing.T) {
	// Many logical operations interleaved on shared goroutines must each see
	// their own tenant, never a neighbor's.
	tenants := []TenantContext{
		newTestTenant(t, "acme"),
		newTestTenant(t, "globex"),
		newTestTenant(t, "initech"),
	}

	var wg sync.WaitGroup
	for i := 0; i < 300; i++ {
		tc := tenants[i%len(tenants)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := WithTenant(context.Background(), tc)
			// Simulate a suspension point between bind and read.
			time.Sleep(time.Millisecond)
			got, err := FromContext(ctx)
			assert.NoError(t, err)
			assert.Equal(t, tc.ID, got.ID)
		}()
	}
	wg.Wait()
}

func TestDetach(t *testing.T) {
	t.Run("keeps tenant, drops cancellation", func(t *testing.T) {
		tc := newTestTenant(t, "acme")
		ctx, cancel := context.WithCancel(WithTenant(context.Background(), tc))

		detached := Detach(ctx)
		cancel()

		assert.NoError(t, detached.Err(), "detached context must survive parent cancel")
		got, err := FromContext(detached)
		require.NoError(t, err)
		assert.Equal(t, tc, got)
	})

	t.Run("no-op tenant-wise when nothing bound", func(t *testing.T) {
		detached := Detach(context.Background())
		_, err := FromContext(detached)
		assert.ErrorIs(t, err, ErrTenantContextMissing)
	})
}

func TestSchemaName(t *testing.T) {
	assert.Equal(t, "tenant_acme", SchemaName("acme"))
}
