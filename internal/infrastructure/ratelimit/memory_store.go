package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryCounter struct {
	count     int64
	expiresAt time.Time
}

// MemoryCounterStore implements CounterStore in process memory. Suitable for
// single-instance deployments and tests; counters are not shared across
// instances, so a fleet behind a load balancer effectively multiplies the
// limit by the instance count.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	now      func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// MemoryStoreOption configures a MemoryCounterStore.
type MemoryStoreOption func(*MemoryCounterStore)

// WithMemoryClock overrides the store's clock for tests.
func WithMemoryClock(now func() time.Time) MemoryStoreOption {
	return func(s *MemoryCounterStore) { s.now = now }
}

// NewMemoryCounterStore creates an in-memory counter store.
func NewMemoryCounterStore(opts ...MemoryStoreOption) *MemoryCounterStore {
	s := &MemoryCounterStore{
		counters: make(map[string]*memoryCounter),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartSweeper launches a background purge of expired counters. Redis expires
// keys on its own; in memory we have to do it ourselves or the map grows with
// every window that ever existed.
func (s *MemoryCounterStore) StartSweeper(every, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep(maxAge)
			case <-s.stop:
				return
			}
		}
	}()
}

func (s *MemoryCounterStore) sweep(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, c := range s.counters {
		if now.After(c.expiresAt.Add(maxAge)) {
			delete(s.counters, key)
		}
	}
}

// Incr increments the counter by amount, resetting it when its window has
// expired.
func (s *MemoryCounterStore) Incr(_ context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.counters[key]
	if !ok || now.After(c.expiresAt) {
		c = &memoryCounter{expiresAt: now.Add(ttl)}
		s.counters[key] = c
	}
	c.count += amount
	return c.count, nil
}

// Get reads the counter, 0 when missing or expired.
func (s *MemoryCounterStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[key]
	if !ok || s.now().After(c.expiresAt) {
		return 0, nil
	}
	return c.count, nil
}

// Delete removes counters.
func (s *MemoryCounterStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		delete(s.counters, key)
	}
	return nil
}

// Len returns the number of live counters, for tests and diagnostics.
func (s *MemoryCounterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// Close stops the sweeper.
func (s *MemoryCounterStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

var _ CounterStore = (*MemoryCounterStore)(nil)
