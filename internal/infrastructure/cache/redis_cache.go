package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/admetric/backend/internal/domain/shared"
	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisTenantCache implements TenantCache on Redis. This is the production
// cache, shared by every server instance.
type RedisTenantCache struct {
	client     *redis.Client
	keyPrefix  string
	defaultTTL time.Duration
	statsRecorder
}

// NewRedisTenantCache creates a cache and verifies the connection.
func NewRedisTenantCache(redisCfg config.RedisConfig, cacheCfg config.CacheConfig) (*RedisTenantCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Addr(),
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisTenantCacheWithClient(client, cacheCfg), nil
}

// NewRedisTenantCacheWithClient wraps an existing client.
func NewRedisTenantCacheWithClient(client *redis.Client, cacheCfg config.CacheConfig) *RedisTenantCache {
	prefix := cacheCfg.KeyPrefix
	if prefix == "" {
		prefix = "cache"
	}
	ttl := cacheCfg.DefaultTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisTenantCache{
		client:     client,
		keyPrefix:  prefix,
		defaultTTL: ttl,
	}
}

func (c *RedisTenantCache) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return c.defaultTTL
	}
	return ttl
}

func wrapUnavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", shared.ErrCacheUnavailable, op, err)
}

// Get returns the value for the tenant's key.
func (c *RedisTenantCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return nil, false, err
	}
	val, err := c.client.Get(ctx, namespacedKey(c.keyPrefix, tc.Slug, key)).Bytes()
	if err == redis.Nil {
		c.miss(tc.Slug)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, wrapUnavailable("get", err)
	}
	c.hit(tc.Slug)
	return val, true, nil
}

// Set stores the value under the tenant's namespace.
func (c *RedisTenantCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	nk := namespacedKey(c.keyPrefix, tc.Slug, key)
	if err := c.client.Set(ctx, nk, value, c.ttlOrDefault(ttl)).Err(); err != nil {
		return wrapUnavailable("set", err)
	}
	return nil
}

// SetWithTags stores the value and records it under each tag's member set.
// The tag set outlives the value by the same TTL so invalidation never dangles
// longer than the data it guards.
func (c *RedisTenantCache) SetWithTags(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	nk := namespacedKey(c.keyPrefix, tc.Slug, key)
	effTTL := c.ttlOrDefault(ttl)

	pipe := c.client.TxPipeline()
	pipe.Set(ctx, nk, value, effTTL)
	for _, tag := range tags {
		tk := tagKey(c.keyPrefix, tc.Slug, tag)
		pipe.SAdd(ctx, tk, nk)
		pipe.Expire(ctx, tk, effTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapUnavailable("set with tags", err)
	}
	return nil
}

// Delete removes the tenant's keys.
func (c *RedisTenantCache) Delete(ctx context.Context, keys ...string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	nks := make([]string, len(keys))
	for i, key := range keys {
		nks[i] = namespacedKey(c.keyPrefix, tc.Slug, key)
	}
	if err := c.client.Del(ctx, nks...).Err(); err != nil {
		return wrapUnavailable("delete", err)
	}
	return nil
}

// Exists reports presence of the tenant's key.
func (c *RedisTenantCache) Exists(ctx context.Context, key string) (bool, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return false, err
	}
	n, err := c.client.Exists(ctx, namespacedKey(c.keyPrefix, tc.Slug, key)).Result()
	if err != nil {
		return false, wrapUnavailable("exists", err)
	}
	return n > 0, nil
}

// Expire rearms the TTL of the tenant's key.
func (c *RedisTenantCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	if err := c.client.Expire(ctx, namespacedKey(c.keyPrefix, tc.Slug, key), ttl).Err(); err != nil {
		return wrapUnavailable("expire", err)
	}
	return nil
}

// MGet returns values in key order, nil for misses.
func (c *RedisTenantCache) MGet(ctx context.Context, keys ...string) ([][]byte, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	nks := make([]string, len(keys))
	for i, key := range keys {
		nks[i] = namespacedKey(c.keyPrefix, tc.Slug, key)
	}
	vals, err := c.client.MGet(ctx, nks...).Result()
	if err != nil {
		return nil, wrapUnavailable("mget", err)
	}
	out := make([][]byte, len(vals))
	for i, v := range vals {
		if v == nil {
			c.miss(tc.Slug)
			continue
		}
		c.hit(tc.Slug)
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// MSet stores every pair with one ttl. Redis' MSET has no TTL form, so this
// pipelines one SET per pair instead.
func (c *RedisTenantCache) MSet(ctx context.Context, pairs map[string][]byte, ttl time.Duration) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}
	effTTL := c.ttlOrDefault(ttl)

	pipe := c.client.TxPipeline()
	for key, value := range pairs {
		pipe.Set(ctx, namespacedKey(c.keyPrefix, tc.Slug, key), value, effTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapUnavailable("mset", err)
	}
	return nil
}

// Remember returns the cached value or computes and stores it. Backend
// failures degrade to computing: the caller gets data either way, just
// without the cache's help.
func (c *RedisTenantCache) Remember(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	val, found, err := c.Get(ctx, key)
	if err == nil && found {
		return val, nil
	}
	if err != nil {
		if errors.Is(err, tenancy.ErrTenantContextMissing) {
			return nil, err
		}
		logger.L(ctx).Warn("cache read failed, computing value", zap.String("key", key), zap.Error(err))
	}

	val, err = fn(ctx)
	if err != nil {
		return nil, err
	}
	if setErr := c.Set(ctx, key, val, ttl); setErr != nil {
		logger.L(ctx).Warn("cache write failed after compute", zap.String("key", key), zap.Error(setErr))
	}
	return val, nil
}

// InvalidateByTag removes every key recorded under the tag.
func (c *RedisTenantCache) InvalidateByTag(ctx context.Context, tag string) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	tk := tagKey(c.keyPrefix, tc.Slug, tag)
	members, err := c.client.SMembers(ctx, tk).Result()
	if err != nil {
		return wrapUnavailable("invalidate tag", err)
	}
	if len(members) > 0 {
		if err := c.client.Del(ctx, members...).Err(); err != nil {
			return wrapUnavailable("invalidate tag", err)
		}
	}
	if err := c.client.Del(ctx, tk).Err(); err != nil {
		return wrapUnavailable("invalidate tag", err)
	}
	return nil
}

// ClearTenant removes everything in the tenant's namespace. SCAN keeps the
// operation incremental; KEYS would stall Redis on a large namespace.
func (c *RedisTenantCache) ClearTenant(ctx context.Context) error {
	tc, err := boundTenant(ctx)
	if err != nil {
		return err
	}
	pattern := namespacedKey(c.keyPrefix, tc.Slug, "*")

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 500).Result()
		if err != nil {
			return wrapUnavailable("clear tenant", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return wrapUnavailable("clear tenant", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	logger.L(ctx).Info("cleared tenant cache namespace")
	return nil
}

// Stats returns this instance's counters for the bound tenant.
func (c *RedisTenantCache) Stats(ctx context.Context) (CacheStats, error) {
	tc, err := boundTenant(ctx)
	if err != nil {
		return CacheStats{}, err
	}
	return c.snapshot(tc.Slug), nil
}

// Close closes the Redis client.
func (c *RedisTenantCache) Close() error {
	return c.client.Close()
}

var _ TenantCache = (*RedisTenantCache)(nil)
