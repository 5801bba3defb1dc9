package schemas

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockGorm(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
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

// mockFactory opens fresh sqlmock-backed connections for tenant handles and
// remembers how many it handed out.
type mockFactory struct {
	t     *testing.T
	opens atomic.Int32

	mu    sync.Mutex
	mocks map[string]sqlmock.Sqlmock
}

func newMockFactory(t *testing.T) *mockFactory {
	return &mockFactory{t: t, mocks: make(map[string]sqlmock.Sqlmock)}
}

func (f *mockFactory) dialector(schema string) gorm.Dialector {
	f.opens.Add(1)
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(f.t, err)
	mock.ExpectPing()

	f.mu.Lock()
	f.mocks[schema] = mock
	f.mu.Unlock()

	return postgres.New(postgres.Config{Conn: mockDB, DriverName: "postgres"})
}

func testTenant(t *testing.T, slug string) tenancy.TenantContext {
	t.Helper()
	tc, err := tenancy.NewTenantContext(uuid.New(), slug)
	require.NoError(t, err)
	return tc
}

func testRouter(t *testing.T, catalog *gorm.DB, opts ...Option) *Router {
	t.Helper()
	dbCfg := config.DatabaseConfig{TenantMaxOpenConns: 5, TenantMaxIdleConns: 2}
	return NewRouter(catalog, dbCfg, config.TenancyConfig{}, opts...)
}

func TestConnectionForReusesHandle(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	router := testRouter(t, catalog, WithDialectorFactory(factory.dialector))
	defer router.Close()

	tc := testTenant(t, "acme")

	first, err := router.ConnectionFor(context.Background(), tc)
	require.NoError(t, err)
	second, err := router.ConnectionFor(context.Background(), tc)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), factory.opens.Load())
	assert.Equal(t, []string{"tenant_acme"}, router.Schemas())
}

func TestConnectionForOneHandlePerSchemaUnderRace(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	router := testRouter(t, catalog, WithDialectorFactory(factory.dialector))
	defer router.Close()

	tc := testTenant(t, "acme")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := router.ConnectionFor(context.Background(), tc)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), factory.opens.Load())
}

func TestConnectionForSeparatesSchemas(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	router := testRouter(t, catalog, WithDialectorFactory(factory.dialector))
	defer router.Close()

	a, err := router.ConnectionFor(context.Background(), testTenant(t, "acme"))
	require.NoError(t, err)
	b, err := router.ConnectionFor(context.Background(), testTenant(t, "globex"))
	require.NoError(t, err)

	assert.NotSame(t, a, b)
	assert.Equal(t, int32(2), factory.opens.Load())
	assert.ElementsMatch(t, []string{"tenant_acme", "tenant_globex"}, router.Schemas())
}

func TestConnectionForRejectsEmptySchema(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	router := testRouter(t, catalog)
	_, err := router.ConnectionFor(context.Background(), tenancy.TenantContext{})
	assert.ErrorIs(t, err, tenancy.ErrTenantContextMissing)
}

func TestConnectionForRunsHandleHook(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	var hooked int
	router := testRouter(t, catalog,
		WithDialectorFactory(factory.dialector),
		WithHandleHook(func(db *gorm.DB) error {
			hooked++
			return nil
		}),
	)
	defer router.Close()

	_, err := router.ConnectionFor(context.Background(), testTenant(t, "acme"))
	require.NoError(t, err)
	_, err = router.ConnectionFor(context.Background(), testTenant(t, "acme"))
	require.NoError(t, err)

	assert.Equal(t, 1, hooked)
}

func TestEnsureSchema(t *testing.T) {
	t.Run("provisions schema and migrates", func(t *testing.T) {
		catalog, catalogMock, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		catalogMock.ExpectBegin()
		catalogMock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
			WithArgs("tenant_acme").
			WillReturnResult(sqlmock.NewResult(0, 0))
		catalogMock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "tenant_acme"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		catalogMock.ExpectCommit()

		factory := newMockFactory(t)
		var migrated int
		router := testRouter(t, catalog,
			WithDialectorFactory(factory.dialector),
			WithMigrator(func(ctx context.Context, db *gorm.DB) error {
				migrated++
				return nil
			}),
		)
		defer router.Close()

		err := router.EnsureSchema(context.Background(), testTenant(t, "acme"))
		require.NoError(t, err)
		assert.Equal(t, 1, migrated)
		assert.NoError(t, catalogMock.ExpectationsWereMet())
	})

	t.Run("wraps DDL failures as provisioning errors", func(t *testing.T) {
		catalog, catalogMock, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		catalogMock.ExpectBegin()
		catalogMock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
			WithArgs("tenant_acme").
			WillReturnError(sql.ErrConnDone)
		catalogMock.ExpectRollback()

		router := testRouter(t, catalog)
		err := router.EnsureSchema(context.Background(), testTenant(t, "acme"))
		assert.ErrorIs(t, err, shared.ErrSchemaProvisioning)
	})

	t.Run("wraps migration failures as provisioning errors", func(t *testing.T) {
		catalog, catalogMock, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		catalogMock.ExpectBegin()
		catalogMock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtext\(\$1\)\)`).
			WithArgs("tenant_acme").
			WillReturnResult(sqlmock.NewResult(0, 0))
		catalogMock.ExpectExec(`CREATE SCHEMA IF NOT EXISTS "tenant_acme"`).
			WillReturnResult(sqlmock.NewResult(0, 0))
		catalogMock.ExpectCommit()

		factory := newMockFactory(t)
		router := testRouter(t, catalog,
			WithDialectorFactory(factory.dialector),
			WithMigrator(func(ctx context.Context, db *gorm.DB) error {
				return sql.ErrConnDone
			}),
		)
		defer router.Close()

		err := router.EnsureSchema(context.Background(), testTenant(t, "acme"))
		assert.ErrorIs(t, err, shared.ErrSchemaProvisioning)
	})
}

func TestDropSchema(t *testing.T) {
	catalog, catalogMock, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	router := testRouter(t, catalog, WithDialectorFactory(factory.dialector))

	tc := testTenant(t, "acme")
	_, err := router.ConnectionFor(context.Background(), tc)
	require.NoError(t, err)

	catalogMock.ExpectExec(`DROP SCHEMA IF EXISTS "tenant_acme" CASCADE`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, router.DropSchema(context.Background(), tc))
	assert.Empty(t, router.Schemas())
	assert.NoError(t, catalogMock.ExpectationsWereMet())
}

func TestMigrateData(t *testing.T) {
	t.Run("copies tables idempotently", func(t *testing.T) {
		catalog, catalogMock, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		catalogMock.ExpectBegin()
		catalogMock.ExpectExec(`INSERT INTO "tenant_globex"."campaigns" SELECT \* FROM "tenant_acme"."campaigns" ON CONFLICT DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 3))
		catalogMock.ExpectExec(`INSERT INTO "tenant_globex"."utm_links" SELECT \* FROM "tenant_acme"."utm_links" ON CONFLICT DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 7))
		catalogMock.ExpectCommit()

		router := testRouter(t, catalog)
		err := router.MigrateData(context.Background(),
			testTenant(t, "acme"), testTenant(t, "globex"),
			[]string{"campaigns", "utm_links"})
		require.NoError(t, err)
		assert.NoError(t, catalogMock.ExpectationsWereMet())
	})

	t.Run("rejects same source and target", func(t *testing.T) {
		catalog, _, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		router := testRouter(t, catalog)
		tc := testTenant(t, "acme")
		err := router.MigrateData(context.Background(), tc, tc, []string{"campaigns"})
		assert.Error(t, err)
	})

	t.Run("rolls back on copy failure", func(t *testing.T) {
		catalog, catalogMock, catalogDB := newMockGorm(t)
		defer catalogDB.Close()

		catalogMock.ExpectBegin()
		catalogMock.ExpectExec(`INSERT INTO "tenant_globex"."campaigns"`).
			WillReturnError(sql.ErrConnDone)
		catalogMock.ExpectRollback()

		router := testRouter(t, catalog)
		err := router.MigrateData(context.Background(),
			testTenant(t, "acme"), testTenant(t, "globex"),
			[]string{"campaigns"})
		assert.Error(t, err)
		assert.NoError(t, catalogMock.ExpectationsWereMet())
	})
}

func TestEvict(t *testing.T) {
	catalog, _, catalogDB := newMockGorm(t)
	defer catalogDB.Close()

	factory := newMockFactory(t)
	router := testRouter(t, catalog, WithDialectorFactory(factory.dialector))

	tc := testTenant(t, "acme")
	_, err := router.ConnectionFor(context.Background(), tc)
	require.NoError(t, err)

	router.Evict("tenant_acme")
	assert.Empty(t, router.Schemas())

	_, err = router.ConnectionFor(context.Background(), tc)
	require.NoError(t, err)
	assert.Equal(t, int32(2), factory.opens.Load())
}
