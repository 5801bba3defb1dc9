package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/admetric/backend/internal/infrastructure/config"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	tags      []string
}

// InMemoryTenantCache implements TenantCache in process memory. Suitable for
// single-instance deployments and tests. Entries are checked for expiry on
// read, so no background janitor is needed for correctness; Purge exists for
// callers who care about memory.
type InMemoryTenantCache struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	tagIndex   map[string]map[string]struct{}
	keyPrefix  string
	defaultTTL time.Duration
	now        func() time.Time
	statsRecorder
}

// MemoryCacheOption configures an InMemoryTenantCache.
type MemoryCacheOption func(*InMemoryTenantCache)

// WithCacheClock overrides the cache's clock for tests.
func WithCacheClock(now func() time.Time) MemoryCacheOption {
	return func(c *InMemoryTenantCache) { c.now = now }
}

// NewInMemoryTenantCache creates an in-memory tenant cache.
func NewInMemoryTenantCache(cacheCfg config.CacheConfig, opts ...MemoryCacheOption) *InMemoryTenantCache {
	prefix := cacheCfg.KeyPrefix
	if prefix == "" {
		prefix = "cache"
	}
	ttl := cacheCfg.DefaultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	c := &InMemoryTenantCache{
		entries:    make(map[string]memoryEntry),
		tagIndex:   make(map[string]map[string]struct{}),
		keyPrefix:  prefix,
		defaultTTL: ttl,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *InMemoryTenantCache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

// live returns the entry if present and unexpired. Caller holds at least a
// read lock.
func (c *InMemoryTenantCache) live(nk string) (memoryEntry, bool) {
	e, ok := c.entries[nk]
	if !ok || c.now().After(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

func (c *InMemoryTenantCache) removeLocked(nk string) {
	if e, ok := c.entries[nk]; ok {
		for _, tag := range e.tags {
			if members, ok := c.tagIndex[tag]; ok {
				delete(members, nk)
				if len(members) == 0 {
					delete(c.tagIndex, tag)
				}
			}
		}
		delete(c.entries, nk)
	}
}

// Get returns the value for the tenant's key.
func (c *InMemoryTenantCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	e, ok := c.live(namespacedKey(c.keyPrefix, tc.Slug, key))
	c.mu.RUnlock()
	if !ok {
		c.miss(tc.Slug)
		return nil, false, nil
	}
	c.hit(tc.Slug)
	return e.value, true, nil
}

// Set stores the value under the tenant's namespace.
func (c *InMemoryTenantCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.SetWithTags(ctx, key, value, ttl)
}

// SetWithTags stores the value and indexes it under each tag.
func (c *InMemoryTenantCache) SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	nk := namespacedKey(c.keyPrefix, tc.Slug, key)

	nsTags := make([]string, len(tags))
	for i, tag := range tags {
		nsTags[i] = tagKey(c.keyPrefix, tc.Slug, tag)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(nk)
	c.entries[nk] = memoryEntry{
		value:     append([]byte(nil), value...),
		expiresAt: c.now().Add(c.ttlOrDefault(ttl)),
		tags:      nsTags,
	}
	for _, tag := range nsTags {
		if c.tagIndex[tag] == nil {
			c.tagIndex[tag] = make(map[string]struct{})
		}
		c.tagIndex[tag][nk] = struct{}{}
	}
	return nil
}

// Delete removes the tenant's keys.
func (c *InMemoryTenantCache) Delete(ctx context.Context, keys ...string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		c.removeLocked(namespacedKey(c.keyPrefix, tc.Slug, key))
	}
	return nil
}

// Exists reports presence of the tenant's key.
func (c *InMemoryTenantCache) Exists(ctx context.Context, key string) (bool, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.live(namespacedKey(c.keyPrefix, tc.Slug, key))
	return ok, nil
}

// Expire rearms the TTL of the tenant's key.
func (c *InMemoryTenantCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	nk := namespacedKey(c.keyPrefix, tc.Slug, key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.live(nk); ok {
		e.expiresAt = c.now().Add(ttl)
		c.entries[nk] = e
	}
	return nil
}

// MGet returns values in key order, nil for misses.
func (c *InMemoryTenantCache) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return nil, err
	}
	out := make([][]byte, len(keys))
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i, key := range keys {
		if e, ok := c.live(namespacedKey(c.keyPrefix, tc.Slug, key)); ok {
			c.hit(tc.Slug)
			out[i] = e.value
		} else {
			c.miss(tc.Slug)
		}
	}
	return out, nil
}

// MSet stores every pair with one ttl.
func (c *InMemoryTenantCache) MSet(ctx context.Context, pairs map[string][]byte, ttl time.Duration) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	expiresAt := c.now().Add(c.ttlOrDefault(ttl))
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range pairs {
		nk := namespacedKey(c.keyPrefix, tc.Slug, key)
		c.removeLocked(nk)
		c.entries[nk] = memoryEntry{
			value:     append([]byte(nil), value...),
			expiresAt: expiresAt,
		}
	}
	return nil
}

// Remember returns the cached value or computes and stores it.
func (c *InMemoryTenantCache) Remember(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	val, found, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if found {
		return val, nil
	}
	val, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.Set(ctx, key, val, ttl); err != nil {
		return nil, err
	}
	return val, nil
}

// InvalidateByTag removes every key indexed under the tag.
func (c *InMemoryTenantCache) InvalidateByTag(ctx context.Context, tag string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	tk := tagKey(c.keyPrefix, tc.Slug, tag)
	c.mu.Lock()
	defer c.mu.Unlock()
	for nk := range c.tagIndex[tk] {
		c.removeLocked(nk)
	}
	delete(c.tagIndex, tk)
	return nil
}

// ClearTenant removes everything in the tenant's namespace.
func (c *InMemoryTenantCache) ClearTenant(ctx context.Context) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	prefix := namespacedKey(c.keyPrefix, tc.Slug, "")
	c.mu.Lock()
	defer c.mu.Unlock()
	for nk := range c.entries {
		if strings.HasPrefix(nk, prefix) {
			c.removeLocked(nk)
		}
	}
	return nil
}

// Stats returns this instance's counters for the bound tenant.
func (c *InMemoryTenantCache) Stats(ctx context.Context) (CacheStats, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	return c.snapshot(tc.Slug), nil
}

// Purge drops expired entries. Optional; reads already ignore them.
func (c *InMemoryTenantCache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for nk, e := range c.entries {
		if now.After(e.expiresAt) {
			c.removeLocked(nk)
		}
	}
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryTenantCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close is a no-op for the in-memory cache.
func (c *InMemoryTenantCache) Close() error { return nil }

var _ TenantCache = (*InMemoryTenantCache)(nil)
