// Package ratelimit enforces per-tenant request quotas with fixed windows.
//
// Counters are identified by tenant, resource, an optional sub-identifier
// (an end-user id, a caller IP) and window start, and every consumption is a
// single atomic increment on the counter store. There is no
// read-then-write anywhere on the hot path, so concurrent requests across any
// number of server instances cannot overshoot the limit. When the counter
// store is unreachable the limiter fails open: blocking every tenant because
// Redis restarted is worse than briefly rating nobody.
package ratelimit

import (
	"context"
	"time"
)

// CounterStore is the backing store for window counters. Implementations
// must make Incr atomic: two concurrent calls for the same key return
// distinct counts.
type CounterStore interface {
	// Incr increments the counter by amount and returns the new value. The
	// first increment of a key arms its expiry with ttl.
	Incr(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// Get returns the current value without modifying it, 0 for a missing
	// or expired key.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// Close releases the store's resources.
	Close() error
}
