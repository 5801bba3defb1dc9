// Package cache provides a tenant-namespaced cache.
//
// Every key is silently prefixed with the bound tenant's slug, so two tenants
// caching under the same logical key never collide and flushing one tenant
// never touches another. Callers read and write plain keys; the namespace is
// invisible to them, exactly like the tenant filter on the data gateway.
package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/admetric/backend/internal/tenancy"
)

// TenantCache is the cache surface handed to application code. All methods
// require a bound TenantContext and operate only inside that tenant's
// namespace.
type TenantCache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores the value. A zero ttl uses the cache's default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetWithTags stores the value and associates it with invalidation tags.
	SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error

	// Delete removes keys.
	Delete(ctx context.Context, keys ...string) error

	// Exists reports whether the key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Expire rearms the key's TTL.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// MGet returns values in key order, nil for misses.
	MGet(ctx context.Context, keys ...string) ([][]byte, error)

	// MSet stores every pair with one ttl. A zero ttl uses the cache's default.
	MSet(ctx context.Context, pairs map[string][]byte, ttl time.Duration) error

	// Remember returns the cached value or computes, stores and returns it.
	// A cache backend failure degrades to calling fn every time.
	Remember(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error)

	// InvalidateByTag removes every key carrying the tag.
	InvalidateByTag(ctx context.Context, tag string) error

	// ClearTenant removes everything in the bound tenant's namespace.
	ClearTenant(ctx context.Context) error

	// Stats returns this instance's hit/miss counters for the bound tenant.
	Stats(ctx context.Context) (CacheStats, error)

	// Close releases the backing store.
	Close() error
}

// CacheStats holds per-tenant effectiveness counters. They are tracked per
// instance, not fleet-wide.
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// namespacedKey builds the storage key for a tenant-scoped logical key.
func namespacedKey(prefix, slug, key string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, slug, key)
}

// tagKey builds the storage key of a tag's member set.
func tagKey(prefix, slug, tag string) string {
	return fmt.Sprintf("%s:%s:tag:%s", prefix, slug, tag)
}

// boundTenant resolves the tenant namespace or fails loudly.
func boundTenant(ctx context.Context) (tenancy.TenantContext, error) {
	return tenancy.FromContext(ctx)
}

// tenantStats is one tenant's counters on this instance.
type tenantStats struct {
	hits   atomic.Uint64
	misses atomic.Uint64
}

// statsRecorder tracks hit/miss counters keyed by tenant slug. Shared by the
// Redis and in-memory implementations.
type statsRecorder struct {
	stats sync.Map // slug -> *tenantStats
}

func (r *statsRecorder) forTenant(slug string) *tenantStats {
	if s, ok := r.stats.Load(slug); ok {
		return s.(*tenantStats)
	}
	s, _ := r.stats.LoadOrStore(slug, &tenantStats{})
	return s.(*tenantStats)
}

func (r *statsRecorder) hit(slug string)  { r.forTenant(slug).hits.Add(1) }
func (r *statsRecorder) miss(slug string) { r.forTenant(slug).misses.Add(1) }

func (r *statsRecorder) snapshot(slug string) CacheStats {
	s := r.forTenant(slug)
	hits, misses := s.hits.Load(), s.misses.Load()
	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{Hits: hits, Misses: misses, HitRate: rate}
}
