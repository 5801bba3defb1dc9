package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/ratelimit"
	"github.com/admetric/backend/internal/tenancy"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	cfg := config.RateLimitConfig{
		Plans: map[string]map[string]config.ResourceLimit{
			"free": {
				ratelimit.ResourceAPI: {Requests: 3, Window: time.Minute},
			},
		},
	}
	store := ratelimit.NewMemoryCounterStore(
		ratelimit.WithMemoryClock(func() time.Time { return now }))
	return ratelimit.NewLimiter(store, ratelimit.NewPlanLimits(cfg), cfg,
		ratelimit.WithClock(func() time.Time { return now }))
}

// bindTenant is a test middleware standing in for tenant resolution.
func bindTenant(tc tenancy.TenantContext, plan string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(TenantPlanKey, plan)
		c.Request = c.Request.WithContext(tenancy.WithTenant(c.Request.Context(), tc))
		c.Next()
	}
}

func newRateLimitRouter(limiter *ratelimit.Limiter, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(pre...)
	r.Use(RateLimit(RateLimitConfig{Enabled: true, Limiter: limiter}))
	r.GET("/campaigns", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRateLimitAllowsWithinQuota(t *testing.T) {
	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	router := newRateLimitRouter(testLimiter(t), bindTenant(tc, "free"))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitDeniesOverQuota(t *testing.T) {
	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	router := newRateLimitRouter(testLimiter(t), bindTenant(tc, "free"))

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMIT_EXCEEDED")
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
}

func TestRateLimitSeparatesTenants(t *testing.T) {
	limiter := testLimiter(t)
	tcA, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	tcB, err := tenancy.NewTenantContext(uuid.New(), "globex")
	require.NoError(t, err)

	routerA := newRateLimitRouter(limiter, bindTenant(tcA, "free"))
	routerB := newRateLimitRouter(limiter, bindTenant(tcB, "free"))

	for i := 0; i < 4; i++ {
		w := httptest.NewRecorder()
		routerA.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
		_ = w
	}

	w := httptest.NewRecorder()
	routerB.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	assert.Equal(t, http.StatusOK, w.Code, "one tenant exhausting its quota must not touch another's")
}

func TestRateLimitPassesThroughWithoutTenant(t *testing.T) {
	router := newRateLimitRouter(testLimiter(t))

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
}

func TestRateLimitDisabled(t *testing.T) {
	r := gin.New()
	r.Use(RateLimit(RateLimitConfig{Enabled: false}))
	r.GET("/campaigns", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitUnlimitedResourceHasNoHeaders(t *testing.T) {
	tc, err := tenancy.NewTenantContext(uuid.New(), "acme")
	require.NoError(t, err)
	limiter := testLimiter(t)

	r := gin.New()
	r.Use(bindTenant(tc, "free"))
	r.Use(RateLimit(RateLimitConfig{
		Enabled: true,
		Limiter: limiter,
		Resource: func(*gin.Context) string {
			// Not limited for the free plan in the test table.
			return "nonexistent"
		},
	}))
	r.GET("/campaigns", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/campaigns", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestResourceByRoute(t *testing.T) {
	resourceFor := ResourceByRoute(map[string]string{
		"/api/v1/exports":  ratelimit.ResourceExports,
		"/api/v1/messages": ratelimit.ResourceMessaging,
	})

	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/exports/123", nil)
	assert.Equal(t, ratelimit.ResourceExports, resourceFor(c))

	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/messages", nil)
	assert.Equal(t, ratelimit.ResourceMessaging, resourceFor(c))

	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/campaigns", nil)
	assert.Equal(t, ratelimit.ResourceAPI, resourceFor(c))
}
