// Package schemas routes database work to per-tenant Postgres schemas.
//
// Every tenant's relational data lives in a schema derived from its slug
// (tenant_<slug>). The Router owns one GORM handle per schema, pinned to that
// schema through the connection string's search_path, so repository code never
// qualifies table names and never sees another tenant's tables.
package schemas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/infrastructure/persistence/models"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DialectorFactory builds the GORM dialector for one tenant schema. The
// default factory opens a fresh connection whose search_path is pinned to the
// schema; tests substitute a factory backed by sqlmock.
type DialectorFactory func(schema string) gorm.Dialector

// Router manages schema lifecycle and the per-schema connection registry.
// All methods are safe for concurrent use.
type Router struct {
	catalog *gorm.DB
	dbCfg   config.DatabaseConfig
	tenCfg  config.TenancyConfig
	open    DialectorFactory

	mu      sync.Mutex
	handles map[string]*gorm.DB

	// onHandle runs once per newly opened tenant handle, before it is
	// published. The scoped gateway registers its callbacks here.
	onHandle func(db *gorm.DB) error

	// migrate creates the baseline objects inside a freshly ensured schema.
	migrate func(ctx context.Context, db *gorm.DB) error
}

// Option configures a Router.
type Option func(*Router)

// WithDialectorFactory overrides how tenant connections are opened.
func WithDialectorFactory(f DialectorFactory) Option {
	return func(r *Router) { r.open = f }
}

// WithHandleHook sets a hook invoked on every newly opened tenant handle.
func WithHandleHook(hook func(db *gorm.DB) error) Option {
	return func(r *Router) { r.onHandle = hook }
}

// WithMigrator replaces the baseline migration run by EnsureSchema.
// Deployments with extra per-tenant objects install them here.
func WithMigrator(migrate func(ctx context.Context, db *gorm.DB) error) Option {
	return func(r *Router) { r.migrate = migrate }
}

// NewRouter creates a Router. catalog must be a handle on the shared catalog
// database with the default search_path; it is used for DDL and cross-schema
// statements only, never for tenant row traffic.
func NewRouter(catalog *gorm.DB, dbCfg config.DatabaseConfig, tenCfg config.TenancyConfig, opts ...Option) *Router {
	r := &Router{
		catalog: catalog,
		dbCfg:   dbCfg,
		tenCfg:  tenCfg,
		handles: make(map[string]*gorm.DB),
	}
	r.open = func(schema string) gorm.Dialector {
		return postgres.Open(dbCfg.DSNForSchema(schema))
	}
	r.migrate = func(ctx context.Context, db *gorm.DB) error {
		return db.WithContext(ctx).AutoMigrate(models.TenantSchemaModels()...)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// EnsureSchema provisions the tenant's schema and its baseline tables. The
// operation is idempotent and serialized across instances with a Postgres
// advisory lock, so two servers provisioning the same tenant cannot interleave
// DDL. Failures surface as SCHEMA_PROVISIONING_FAILED and the tenant must not
// be activated until a retry succeeds.
func (r *Router) EnsureSchema(ctx context.Context, tc tenancy.TenantContext) error {
	if tc.Schema == "" {
		return shared.ErrSchemaProvisioning
	}
	if r.tenCfg.ProvisionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.tenCfg.ProvisionTimeout)
		defer cancel()
	}

	start := time.Now()
	err := r.catalog.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The advisory lock is released with the transaction.
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", tc.Schema).Error; err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		createStmt := fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", pq.QuoteIdentifier(tc.Schema))
		if err := tx.Exec(createStmt).Error; err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		return nil
	})
	if err != nil {
		logger.L(ctx).Error("schema provisioning failed",
			zap.String("schema", tc.Schema),
			zap.Error(err))
		return fmt.Errorf("%w: %v", shared.ErrSchemaProvisioning, err)
	}

	handle, err := r.ConnectionFor(ctx, tc)
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrSchemaProvisioning, err)
	}
	if err := r.migrate(ctx, handle); err != nil {
		logger.L(ctx).Error("schema migration failed",
			zap.String("schema", tc.Schema),
			zap.Error(err))
		return fmt.Errorf("%w: %v", shared.ErrSchemaProvisioning, err)
	}

	logger.L(ctx).Info("tenant schema ready",
		zap.String("schema", tc.Schema),
		zap.Duration("took", time.Since(start)))
	return nil
}

// ConnectionFor returns the GORM handle pinned to the tenant's schema,
// opening it on first use. At most one handle exists per schema regardless of
// how many goroutines race here.
func (r *Router) ConnectionFor(ctx context.Context, tc tenancy.TenantContext) (*gorm.DB, error) {
	if tc.Schema == "" {
		return nil, tenancy.ErrTenantContextMissing
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if db, ok := r.handles[tc.Schema]; ok {
		return db, nil
	}

	db, err := r.openHandle(ctx, tc.Schema)
	if err != nil {
		return nil, err
	}
	r.handles[tc.Schema] = db
	return db, nil
}

// openHandle opens a new schema-pinned connection. Caller holds r.mu.
func (r *Router) openHandle(ctx context.Context, schema string) (*gorm.DB, error) {
	db, err := gorm.Open(r.open(schema), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
		PrepareStmt:            true,
	})
	if err != nil {
		return nil, fmt.Errorf("open connection for schema %s: %w", schema, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB for schema %s: %w", schema, err)
	}
	sqlDB.SetMaxOpenConns(r.dbCfg.TenantMaxOpenConns)
	sqlDB.SetMaxIdleConns(r.dbCfg.TenantMaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(r.dbCfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(r.dbCfg.ConnMaxIdleTime) * time.Minute)

	pingCtx := ctx
	if r.tenCfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, r.tenCfg.ConnectTimeout)
		defer cancel()
	}
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping schema %s: %w", schema, err)
	}

	if r.onHandle != nil {
		if err := r.onHandle(db); err != nil {
			_ = sqlDB.Close()
			return nil, fmt.Errorf("prepare handle for schema %s: %w", schema, err)
		}
	}

	logger.L(ctx).Debug("opened tenant connection", zap.String("schema", schema))
	return db, nil
}

// DropSchema irreversibly removes the tenant's schema and everything in it,
// closing the cached handle first. Callers are expected to have exported or
// migrated the data beforehand.
func (r *Router) DropSchema(ctx context.Context, tc tenancy.TenantContext) error {
	if tc.Schema == "" {
		return tenancy.ErrTenantContextMissing
	}

	r.mu.Lock()
	if db, ok := r.handles[tc.Schema]; ok {
		delete(r.handles, tc.Schema)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	r.mu.Unlock()

	logger.L(ctx).Warn("dropping tenant schema, all tenant data will be destroyed",
		zap.String("schema", tc.Schema))

	dropStmt := fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", pq.QuoteIdentifier(tc.Schema))
	if err := r.catalog.WithContext(ctx).Exec(dropStmt).Error; err != nil {
		return fmt.Errorf("drop schema %s: %w", tc.Schema, err)
	}
	return nil
}

// MigrateData copies the named tables from one tenant schema into another.
// Rows whose primary key already exists in the target are left untouched, so
// a partially completed copy can be re-run safely. Both schemas must already
// be provisioned.
func (r *Router) MigrateData(ctx context.Context, from, to tenancy.TenantContext, tables []string) error {
	if from.Schema == "" || to.Schema == "" {
		return tenancy.ErrTenantContextMissing
	}
	if from.Schema == to.Schema {
		return shared.NewDomainError("INVALID_INPUT", "Source and target schema are the same")
	}

	return r.catalog.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			stmt := fmt.Sprintf(
				"INSERT INTO %s.%s SELECT * FROM %s.%s ON CONFLICT DO NOTHING",
				pq.QuoteIdentifier(to.Schema), pq.QuoteIdentifier(table),
				pq.QuoteIdentifier(from.Schema), pq.QuoteIdentifier(table),
			)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("copy %s from %s to %s: %w", table, from.Schema, to.Schema, err)
			}
			logger.L(ctx).Info("copied tenant table",
				zap.String("table", table),
				zap.String("from", from.Schema),
				zap.String("to", to.Schema))
		}
		return nil
	})
}

// Schemas returns the schemas with an open handle, for diagnostics.
func (r *Router) Schemas() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handles))
	for schema := range r.handles {
		out = append(out, schema)
	}
	return out
}

// Evict closes and forgets the handle for one schema. The next ConnectionFor
// reopens it. Used when a connection is known to be poisoned.
func (r *Router) Evict(schema string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if db, ok := r.handles[schema]; ok {
		delete(r.handles, schema)
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

// Close closes every cached tenant handle. The catalog connection is owned by
// the caller and stays open.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for schema, db := range r.handles {
		if sqlDB, err := db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil && firstErr == nil {
				firstErr = fmt.Errorf("close handle for schema %s: %w", schema, cerr)
			}
		}
		delete(r.handles, schema)
	}
	return firstErr
}
