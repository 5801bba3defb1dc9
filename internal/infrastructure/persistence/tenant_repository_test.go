package persistence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/admetric/backend/internal/domain/identity"
	"github.com/admetric/backend/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func tenantRows(tenant *identity.Tenant) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "slug", "name", "status", "plan", "created_at", "updated_at"}).
		AddRow(tenant.ID.String(), tenant.Slug, tenant.Name, string(tenant.Status), string(tenant.Plan),
			tenant.CreatedAt, tenant.UpdatedAt)
}

func TestGormTenantRepositoryFindBySlug(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t)
		defer mockDB.Close()

		want, err := identity.NewTenant("acme", "Acme Corp")
		require.NoError(t, err)

		mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE slug = \$1`).
			WithArgs("acme", 1).
			WillReturnRows(tenantRows(want))

		repo := NewGormTenantRepository(db)
		got, err := repo.FindBySlug(context.Background(), "  ACME ")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, "acme", got.Slug)
	})

	t.Run("not found", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE slug = \$1`).
			WithArgs("missing", 1).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		repo := NewGormTenantRepository(db)
		_, err := repo.FindBySlug(context.Background(), "missing")
		assert.ErrorIs(t, err, shared.ErrNotFound)
	})

	t.Run("empty slug short-circuits", func(t *testing.T) {
		db, mock, mockDB := setupMockDB(t)
		defer mockDB.Close()

		repo := NewGormTenantRepository(db)
		_, err := repo.FindBySlug(context.Background(), "   ")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGormTenantRepositoryFindByID(t *testing.T) {
	db, mock, mockDB := setupMockDB(t)
	defer mockDB.Close()

	want, err := identity.NewTenant("acme", "Acme Corp")
	require.NoError(t, err)

	mock.ExpectQuery(`SELECT \* FROM "tenants" WHERE id = \$1`).
		WithArgs(want.ID.String(), 1).
		WillReturnRows(tenantRows(want))

	repo := NewGormTenantRepository(db)
	got, err := repo.FindByID(context.Background(), want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.Slug, got.Slug)
}

// stubTenantRepo counts catalog hits for the caching decorator tests.
type stubTenantRepo struct {
	tenant *identity.Tenant
	calls  int
}

func (s *stubTenantRepo) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	s.calls++
	if s.tenant == nil || s.tenant.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.tenant, nil
}

func (s *stubTenantRepo) FindBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	s.calls++
	if s.tenant == nil || s.tenant.Slug != slug {
		return nil, shared.ErrNotFound
	}
	return s.tenant, nil
}

func (s *stubTenantRepo) Save(ctx context.Context, tenant *identity.Tenant) error {
	s.tenant = tenant
	return nil
}

func (s *stubTenantRepo) List(ctx context.Context) ([]*identity.Tenant, error) {
	if s.tenant == nil {
		return nil, nil
	}
	return []*identity.Tenant{s.tenant}, nil
}

func TestCachedTenantRepository(t *testing.T) {
	newCached := func(t *testing.T, ttl time.Duration) (*CachedTenantRepository, *stubTenantRepo, *time.Time) {
		t.Helper()
		tenant, err := identity.NewTenant("acme", "Acme Corp")
		require.NoError(t, err)
		stub := &stubTenantRepo{tenant: tenant}
		cached := NewCachedTenantRepository(stub, ttl)
		now := time.Unix(1_700_000_000, 0)
		cached.now = func() time.Time { return now }
		return cached, stub, &now
	}

	t.Run("memoizes within TTL", func(t *testing.T) {
		cached, stub, _ := newCached(t, time.Minute)

		for i := 0; i < 5; i++ {
			got, err := cached.FindBySlug(context.Background(), "acme")
			require.NoError(t, err)
			assert.Equal(t, "acme", got.Slug)
		}
		assert.Equal(t, 1, stub.calls)
	})

	t.Run("refetches after TTL", func(t *testing.T) {
		cached, stub, now := newCached(t, time.Minute)

		_, err := cached.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)

		*now = now.Add(2 * time.Minute)
		_, err = cached.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("save invalidates", func(t *testing.T) {
		cached, stub, _ := newCached(t, time.Minute)

		got, err := cached.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)

		require.NoError(t, got.Suspend())
		require.NoError(t, cached.Save(context.Background(), got))

		fresh, err := cached.FindBySlug(context.Background(), "acme")
		require.NoError(t, err)
		assert.False(t, fresh.IsActive())
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("zero TTL disables caching", func(t *testing.T) {
		cached, stub, _ := newCached(t, 0)

		_, _ = cached.FindBySlug(context.Background(), "acme")
		_, _ = cached.FindBySlug(context.Background(), "acme")
		assert.Equal(t, 2, stub.calls)
	})

	t.Run("does not cache misses", func(t *testing.T) {
		cached, stub, _ := newCached(t, time.Minute)

		_, err := cached.FindBySlug(context.Background(), "unknown")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		_, err = cached.FindBySlug(context.Background(), "unknown")
		assert.ErrorIs(t, err, shared.ErrNotFound)
		assert.Equal(t, 2, stub.calls)
	})
}
