package ratelimit

import (
	"fmt"

	"github.com/admetric/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// StoreFactory creates counter stores based on configuration.
type StoreFactory struct {
	redisConfig           config.RedisConfig
	rateCfg               config.RateLimitConfig
	logger                *zap.Logger
	allowInMemoryFallback bool
}

// StoreFactoryOption is a functional option for configuring the factory.
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory.
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) { f.logger = logger }
}

// WithInMemoryFallback controls whether to fall back to an in-memory store
// when Redis is unavailable. Default is true.
func WithInMemoryFallback(allow bool) StoreFactoryOption {
	return func(f *StoreFactory) { f.allowInMemoryFallback = allow }
}

// NewStoreFactory creates a new factory.
func NewStoreFactory(redisCfg config.RedisConfig, rateCfg config.RateLimitConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		redisConfig:           redisCfg,
		rateCfg:               rateCfg,
		logger:                zap.NewNop(),
		allowInMemoryFallback: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateStore tries Redis first and falls back to an in-memory store when
// Redis is unavailable and fallback is allowed. The in-memory store does not
// share counters across instances, so a multi-instance deployment running on
// the fallback enforces a per-instance limit, not a fleet-wide one.
func (f *StoreFactory) CreateStore() (CounterStore, error) {
	store, err := NewRedisCounterStore(f.redisConfig.Addr(), f.redisConfig.Password, f.redisConfig.DB)
	if err == nil {
		f.logger.Info("using Redis rate limit counter store")
		return store, nil
	}

	if !f.allowInMemoryFallback {
		return nil, fmt.Errorf("Redis required for rate limiting but unavailable: %w", err)
	}

	f.logger.Warn("Redis unavailable, falling back to in-memory rate limit counters. "+
		"Limits will be enforced per instance, not fleet-wide.",
		zap.Error(err),
	)
	mem := NewMemoryCounterStore()
	if f.rateCfg.SweepEnabled && f.rateCfg.SweepEvery > 0 {
		mem.StartSweeper(f.rateCfg.SweepEvery, f.rateCfg.SweepMaxAge)
	}
	return mem, nil
}
