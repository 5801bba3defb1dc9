package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a settable clock shared by store and limiter.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testPlans(t *testing.T, entries map[string]map[string]config.ResourceLimit) *PlanLimits {
	t.Helper()
	return NewPlanLimits(config.RateLimitConfig{Plans: entries})
}

func testLimiter(t *testing.T, plans *PlanLimits) (*Limiter, *fakeClock, *MemoryCounterStore) {
	t.Helper()
	clock := newFakeClock()
	store := NewMemoryCounterStore(WithMemoryClock(clock.Now))
	limiter := NewLimiter(store, plans, config.RateLimitConfig{}, WithClock(clock.Now))
	t.Cleanup(func() { _ = limiter.Close() })
	return limiter, clock, store
}

func limiterTenant(t *testing.T) tenancy.TenantContext {
	t.Helper()
	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	return tc
}

func TestConsumeEnforcesLimit(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 5, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res := limiter.Consume(ctx, tc, "free", ResourceAPI)
		assert.True(t, res.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5, res.Limit)
		assert.Equal(t, 4-i, res.Remaining)
	}

	res := limiter.Consume(ctx, tc, "free", ResourceAPI)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
	assert.False(t, res.FailOpen)
}

func TestConsumeWindowRollover(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 2, Window: time.Minute}},
	})
	limiter, clock, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	limiter.Consume(ctx, tc, "free", ResourceAPI)
	limiter.Consume(ctx, tc, "free", ResourceAPI)
	assert.False(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)

	clock.Advance(time.Minute)

	res := limiter.Consume(ctx, tc, "free", ResourceAPI)
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Remaining)
}

func TestConsumeResetTimeIsWindowEnd(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 10, Window: time.Minute}},
	})
	limiter, clock, _ := testLimiter(t, plans)
	tc := limiterTenant(t)

	res := limiter.Consume(context.Background(), tc, "free", ResourceAPI)
	wms := time.Minute.Milliseconds()
	wantReset := time.UnixMilli(clock.Now().UnixMilli()/wms*wms + wms)
	assert.Equal(t, wantReset, res.ResetTime)

	// A denied request in the same window reports the same reset; denials
	// never push the window out.
	for i := 0; i < 12; i++ {
		res = limiter.Consume(context.Background(), tc, "free", ResourceAPI)
	}
	assert.False(t, res.Allowed)
	assert.Equal(t, wantReset, res.ResetTime)
}

func TestConsumeExactUnderConcurrency(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 50, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Consume(context.Background(), tc, "free", ResourceAPI).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(50), allowed.Load())
}

func TestTenantsDoNotShareCounters(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 1, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	ctx := context.Background()

	a := limiterTenant(t)
	b, err := tenancy.NewTenantContext(uuid.New(), "globex")
	require.NoError(t, err)

	assert.True(t, limiter.Consume(ctx, a, "free", ResourceAPI).Allowed)
	assert.False(t, limiter.Consume(ctx, a, "free", ResourceAPI).Allowed)
	assert.True(t, limiter.Consume(ctx, b, "free", ResourceAPI).Allowed)
}

func TestResourcesDoNotShareCounters(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {
			ResourceAPI:     {Requests: 1, Window: time.Minute},
			ResourceExports: {Requests: 1, Window: time.Minute},
		},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)
	assert.False(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)
	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceExports).Allowed)
}

func TestSubIdentifiersDoNotShareCounters(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 1, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-1")).Allowed)
	assert.False(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-1")).Allowed)
	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-2")).Allowed)

	// The tenant-wide counter is its own bucket too.
	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)
}

func TestConsumeAmountSpendsMultipleUnits(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceExports: {Requests: 10, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	res := limiter.Consume(ctx, tc, "free", ResourceExports, WithAmount(7))
	assert.True(t, res.Allowed)
	assert.Equal(t, 3, res.Remaining)

	// 7 + 7 overshoots the window; the batch is denied as a whole.
	res = limiter.Consume(ctx, tc, "free", ResourceExports, WithAmount(7))
	assert.False(t, res.Allowed)

	res = limiter.Consume(ctx, tc, "free", ResourceExports, WithAmount(0))
	assert.False(t, res.Allowed, "amount floors at one unit")
}

func TestCheckAccountsForAmount(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceExports: {Requests: 5, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	limiter.Consume(ctx, tc, "free", ResourceExports, WithAmount(3))

	assert.True(t, limiter.Check(ctx, tc, "free", ResourceExports, WithAmount(2)).Allowed)
	assert.False(t, limiter.Check(ctx, tc, "free", ResourceExports, WithAmount(3)).Allowed)
}

func TestResetClearsOnlyTheSubIdentifier(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 1, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	require.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-1")).Allowed)
	require.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-2")).Allowed)

	require.NoError(t, limiter.Reset(ctx, tc, "free", ResourceAPI, WithSubID("user-1")))

	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-1")).Allowed)
	assert.False(t, limiter.Consume(ctx, tc, "free", ResourceAPI, WithSubID("user-2")).Allowed)
}

func TestCheckDoesNotConsume(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 3, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		res := limiter.Check(ctx, tc, "free", ResourceAPI)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Remaining)
	}

	limiter.Consume(ctx, tc, "free", ResourceAPI)
	res := limiter.Check(ctx, tc, "free", ResourceAPI)
	assert.Equal(t, 2, res.Remaining)
}

func TestResetRestoresQuota(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 1, Window: time.Minute}},
	})
	limiter, _, _ := testLimiter(t, plans)
	tc := limiterTenant(t)
	ctx := context.Background()

	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)
	assert.False(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)

	require.NoError(t, limiter.Reset(ctx, tc, "free", ResourceAPI))
	assert.True(t, limiter.Consume(ctx, tc, "free", ResourceAPI).Allowed)
}

func TestUnlimitedResource(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"enterprise": {ResourceAPI: {Requests: 10, Window: time.Minute}},
	})
	limiter, _, store := testLimiter(t, plans)
	tc := limiterTenant(t)

	// exports is not in the enterprise plan, so it is unlimited.
	for i := 0; i < 1000; i++ {
		res := limiter.Consume(context.Background(), tc, "enterprise", ResourceExports)
		require.True(t, res.Allowed)
		assert.Equal(t, 0, res.Limit)
	}
	assert.Equal(t, 0, store.Len())
}

// errorStore simulates a counter store outage.
type errorStore struct{}

func (errorStore) Incr(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}
func (errorStore) Get(context.Context, string) (int64, error) {
	return 0, errors.New("connection refused")
}
func (errorStore) Delete(context.Context, ...string) error { return errors.New("connection refused") }
func (errorStore) Close() error                            { return nil }

func TestConsumeFailsOpenOnStoreOutage(t *testing.T) {
	plans := testPlans(t, map[string]map[string]config.ResourceLimit{
		"free": {ResourceAPI: {Requests: 1, Window: time.Minute}},
	})
	limiter := NewLimiter(errorStore{}, plans, config.RateLimitConfig{})
	tc := limiterTenant(t)

	for i := 0; i < 5; i++ {
		res := limiter.Consume(context.Background(), tc, "free", ResourceAPI)
		assert.True(t, res.Allowed)
		assert.True(t, res.FailOpen)
	}

	check := limiter.Check(context.Background(), tc, "free", ResourceAPI)
	assert.True(t, check.Allowed)
	assert.True(t, check.FailOpen)
}

func TestMemoryStoreSweep(t *testing.T) {
	clock := newFakeClock()
	store := NewMemoryCounterStore(WithMemoryClock(clock.Now))
	defer store.Close()

	_, err := store.Incr(context.Background(), "ratelimit:x", 1, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	clock.Advance(2 * time.Hour)
	store.sweep(time.Hour)
	assert.Equal(t, 0, store.Len())
}

func TestPlanLimitsOverlay(t *testing.T) {
	plans := NewPlanLimits(config.RateLimitConfig{
		Plans: map[string]map[string]config.ResourceLimit{
			"free": {ResourceAPI: {Requests: 42, Window: time.Minute}},
		},
	})

	limit, ok := plans.Limit("free", ResourceAPI)
	require.True(t, ok)
	assert.Equal(t, 42, limit.Requests)

	// Other defaults survive the overlay.
	limit, ok = plans.Limit("free", ResourceExports)
	require.True(t, ok)
	assert.Equal(t, 2, limit.Requests)
}

func TestPlanLimitsUnknownPlanFallsBackToFree(t *testing.T) {
	plans := NewPlanLimits(config.RateLimitConfig{})

	limit, ok := plans.Limit("platinum", ResourceAPI)
	require.True(t, ok)
	free, _ := plans.Limit("free", ResourceAPI)
	assert.Equal(t, free, limit)
}

func TestDefaultFreeAPILimit(t *testing.T) {
	plans := NewPlanLimits(config.RateLimitConfig{})
	limit, ok := plans.Limit("free", ResourceAPI)
	require.True(t, ok)
	assert.Equal(t, 100, limit.Requests)
	assert.Equal(t, time.Minute, limit.Window)
}
