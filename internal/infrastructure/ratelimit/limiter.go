package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/tenancy"
	"go.uber.org/zap"
)

const keyPrefix = "ratelimit"

// Result is the outcome of one quota decision.
type Result struct {
	Allowed   bool
	Limit     int       // 0 means unlimited
	Remaining int       // never negative
	ResetTime time.Time // start of the next window
	FailOpen  bool      // decision made without the counter store
}

// Limiter makes quota decisions for tenant requests. Consume is the enforcing
// call; Check is a read-only preview for dashboards and does not count against
// the quota.
type Limiter struct {
	store     CounterStore
	plans     *PlanLimits
	opTimeout time.Duration
	now       func() time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock overrides the limiter's clock for tests.
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates a Limiter over the given counter store.
func NewLimiter(store CounterStore, plans *PlanLimits, cfg config.RateLimitConfig, opts ...LimiterOption) *Limiter {
	l := &Limiter{
		store:     store,
		plans:     plans,
		opTimeout: cfg.OpTimeout,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// window returns the current window's key suffix and end for a limit.
func (l *Limiter) window(limit config.ResourceLimit) (start int64, reset time.Time) {
	wms := limit.Window.Milliseconds()
	start = l.now().UnixMilli() / wms * wms
	return start, time.UnixMilli(start + wms)
}

func counterKey(tc tenancy.TenantContext, resource, subID string, windowStart int64) string {
	if subID == "" {
		return fmt.Sprintf("%s:%s:%s:%d", keyPrefix, tc.ID, resource, windowStart)
	}
	return fmt.Sprintf("%s:%s:%s:%s:%d", keyPrefix, tc.ID, resource, subID, windowStart)
}

type consumeParams struct {
	subID  string
	amount int64
}

// ConsumeOption narrows or weights a single quota decision.
type ConsumeOption func(*consumeParams)

// WithSubID scopes the decision to a sub-identifier inside the tenant, such
// as an end-user id or a caller IP. Each sub-identifier gets its own counter;
// the empty string is the tenant-wide counter.
func WithSubID(subID string) ConsumeOption {
	return func(p *consumeParams) { p.subID = subID }
}

// WithAmount spends n units instead of one. Bulk endpoints use this to weigh
// one request as many.
func WithAmount(n int64) ConsumeOption {
	return func(p *consumeParams) { p.amount = n }
}

func applyConsumeOptions(opts []ConsumeOption) consumeParams {
	p := consumeParams{amount: 1}
	for _, opt := range opts {
		opt(&p)
	}
	if p.amount < 1 {
		p.amount = 1
	}
	return p
}

// Consume spends units of the tenant's quota (one by default) and reports
// whether the request may proceed. The increment happens even for denied
// requests; denied traffic still hammers the window it lands in, it just
// never pushes the reset further out.
func (l *Limiter) Consume(ctx context.Context, tc tenancy.TenantContext, plan, resource string, opts ...ConsumeOption) Result {
	limit, limited := l.plans.Limit(plan, resource)
	if !limited {
		return Result{Allowed: true}
	}

	p := applyConsumeOptions(opts)
	windowStart, reset := l.window(limit)
	key := counterKey(tc, resource, p.subID, windowStart)

	opCtx := ctx
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	count, err := l.store.Incr(opCtx, key, p.amount, limit.Window)
	if err != nil {
		logger.L(ctx).Warn("rate limit store unreachable, failing open",
			zap.String("resource", resource),
			zap.String("plan", plan),
			zap.Error(err))
		return Result{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests,
			ResetTime: reset,
			FailOpen:  true,
		}
	}

	remaining := limit.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit.Requests),
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetTime: reset,
	}
}

// Check previews the tenant's quota state without consuming. Allowed reports
// whether a Consume with the same options would succeed right now.
func (l *Limiter) Check(ctx context.Context, tc tenancy.TenantContext, plan, resource string, opts ...ConsumeOption) Result {
	limit, limited := l.plans.Limit(plan, resource)
	if !limited {
		return Result{Allowed: true}
	}

	p := applyConsumeOptions(opts)
	windowStart, reset := l.window(limit)
	key := counterKey(tc, resource, p.subID, windowStart)

	opCtx := ctx
	if l.opTimeout > 0 {
		var cancel context.CancelFunc
		opCtx, cancel = context.WithTimeout(ctx, l.opTimeout)
		defer cancel()
	}

	count, err := l.store.Get(opCtx, key)
	if err != nil {
		logger.L(ctx).Warn("rate limit store unreachable, failing open",
			zap.String("resource", resource),
			zap.String("plan", plan),
			zap.Error(err))
		return Result{
			Allowed:   true,
			Limit:     limit.Requests,
			Remaining: limit.Requests,
			ResetTime: reset,
			FailOpen:  true,
		}
	}

	remaining := limit.Requests - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count+p.amount <= int64(limit.Requests),
		Limit:     limit.Requests,
		Remaining: remaining,
		ResetTime: reset,
	}
}

// Reset clears the tenant's current window for a resource, immediately
// restoring the full quota. Admin and support tooling calls this.
func (l *Limiter) Reset(ctx context.Context, tc tenancy.TenantContext, plan, resource string, opts ...ConsumeOption) error {
	limit, limited := l.plans.Limit(plan, resource)
	if !limited {
		return nil
	}
	p := applyConsumeOptions(opts)
	windowStart, _ := l.window(limit)
	if err := l.store.Delete(ctx, counterKey(tc, resource, p.subID, windowStart)); err != nil {
		return fmt.Errorf("reset quota for %s/%s: %w", tc.Slug, resource, err)
	}
	logger.L(ctx).Info("quota reset",
		zap.String("resource", resource),
		zap.String("plan", plan))
	return nil
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
