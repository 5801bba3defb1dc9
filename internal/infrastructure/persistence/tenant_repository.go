package persistence

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/admetric/backend/internal/domain/identity"
	"github.com/admetric/backend/internal/domain/shared"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormTenantRepository implements identity.TenantRepository on the catalog
// connection.
type GormTenantRepository struct {
	db *gorm.DB
}

// NewGormTenantRepository creates a new GormTenantRepository.
func NewGormTenantRepository(db *gorm.DB) *GormTenantRepository {
	return &GormTenantRepository{db: db}
}

// FindByID finds a tenant by its ID.
func (r *GormTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	var tenant identity.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// FindBySlug finds a tenant by its unique slug.
func (r *GormTenantRepository) FindBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == "" {
		return nil, shared.ErrNotFound
	}
	var tenant identity.Tenant
	if err := r.db.WithContext(ctx).First(&tenant, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &tenant, nil
}

// Save creates or updates a tenant.
func (r *GormTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	return r.db.WithContext(ctx).Save(tenant).Error
}

// List returns all tenants ordered by creation time.
func (r *GormTenantRepository) List(ctx context.Context) ([]*identity.Tenant, error) {
	var tenants []*identity.Tenant
	if err := r.db.WithContext(ctx).Order("created_at").Find(&tenants).Error; err != nil {
		return nil, err
	}
	return tenants, nil
}

var _ identity.TenantRepository = (*GormTenantRepository)(nil)

type catalogEntry struct {
	tenant    *identity.Tenant
	fetchedAt time.Time
}

// CachedTenantRepository memoizes slug and ID lookups for a short TTL.
// Tenant resolution runs on every request before any tenant context exists,
// so it cannot use the tenant cache; a local map is enough because catalog
// rows change rarely and staleness is bounded by the TTL.
type CachedTenantRepository struct {
	inner identity.TenantRepository
	ttl   time.Duration
	now   func() time.Time

	mu     sync.RWMutex
	bySlug map[string]catalogEntry
	byID   map[uuid.UUID]catalogEntry
}

// NewCachedTenantRepository wraps a repository with TTL memoization.
// A non-positive ttl disables caching.
func NewCachedTenantRepository(inner identity.TenantRepository, ttl time.Duration) *CachedTenantRepository {
	return &CachedTenantRepository{
		inner:  inner,
		ttl:    ttl,
		now:    time.Now,
		bySlug: make(map[string]catalogEntry),
		byID:   make(map[uuid.UUID]catalogEntry),
	}
}

func (r *CachedTenantRepository) fresh(e catalogEntry, ok bool) (*identity.Tenant, bool) {
	if !ok || r.ttl <= 0 || r.now().Sub(e.fetchedAt) > r.ttl {
		return nil, false
	}
	return e.tenant, true
}

// FindByID returns the cached tenant or loads it from the catalog.
func (r *CachedTenantRepository) FindByID(ctx context.Context, id uuid.UUID) (*identity.Tenant, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if tenant, hit := r.fresh(e, ok); hit {
		return tenant, nil
	}

	tenant, err := r.inner.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	r.store(tenant)
	return tenant, nil
}

// FindBySlug returns the cached tenant or loads it from the catalog.
func (r *CachedTenantRepository) FindBySlug(ctx context.Context, slug string) (*identity.Tenant, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))

	r.mu.RLock()
	e, ok := r.bySlug[slug]
	r.mu.RUnlock()
	if tenant, hit := r.fresh(e, ok); hit {
		return tenant, nil
	}

	tenant, err := r.inner.FindBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	r.store(tenant)
	return tenant, nil
}

// Save writes through and invalidates the memoized entry so status and plan
// changes take effect on the next request, not after the TTL.
func (r *CachedTenantRepository) Save(ctx context.Context, tenant *identity.Tenant) error {
	if err := r.inner.Save(ctx, tenant); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.bySlug, tenant.Slug)
	delete(r.byID, tenant.ID)
	r.mu.Unlock()
	return nil
}

// List always hits the catalog.
func (r *CachedTenantRepository) List(ctx context.Context) ([]*identity.Tenant, error) {
	return r.inner.List(ctx)
}

// Invalidate drops the memoized entry for a slug.
func (r *CachedTenantRepository) Invalidate(slug string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.bySlug[slug]; ok {
		delete(r.byID, e.tenant.ID)
	}
	delete(r.bySlug, slug)
}

func (r *CachedTenantRepository) store(tenant *identity.Tenant) {
	e := catalogEntry{tenant: tenant, fetchedAt: r.now()}
	r.mu.Lock()
	r.bySlug[tenant.Slug] = e
	r.byID[tenant.ID] = e
	r.mu.Unlock()
}

var _ identity.TenantRepository = (*CachedTenantRepository)(nil)
