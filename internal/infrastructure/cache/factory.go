package cache

import (
	"fmt"

	"github.com/admetric/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Factory creates tenant caches based on configuration.
type Factory struct {
	redisConfig           config.RedisConfig
	cacheConfig           config.CacheConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// FactoryOption is a functional option for configuring the factory.
type FactoryOption func(*Factory)

// WithLogger sets the logger for the factory.
func WithLogger(logger *zap.Logger) FactoryOption {
	return func(f *Factory) { f.logger = logger }
}

// WithInMemoryFallback controls whether to fall back to an in-memory cache
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) FactoryOption {
	return func(f *Factory) { f.allowInMemoryFallback = allow }
}

// NewFactory creates a new cache factory.
func NewFactory(redisCfg config.RedisConfig, cacheCfg config.CacheConfig, opts ...FactoryOption) *Factory {
	f := &Factory{
		redisConfig:           redisCfg,
		cacheConfig:           cacheCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateCache tries Redis first and falls back to an in-memory cache when
// Redis is unavailable and fallback is allowed. The in-memory fallback keeps
// tenant namespacing intact; only sharing across instances is lost.
func (f *Factory) CreateCache() (TenantCache, error) {
	c, err := NewRedisTenantCache(f.redisConfig, f.cacheConfig)
	if err == nil {
		f.logger.Info("using Redis tenant cache")
		return c, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for caching but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory tenant cache",
		zap.Error(err),
	)
	return NewInMemoryTenantCache(f.cacheConfig), nil
}
