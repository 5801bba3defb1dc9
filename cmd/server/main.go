package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/admetric/backend/internal/domain/identity"
	"github.com/admetric/backend/internal/infrastructure/cache"
	"github.com/admetric/backend/internal/infrastructure/config"
	"github.com/admetric/backend/internal/infrastructure/logger"
	"github.com/admetric/backend/internal/infrastructure/persistence"
	"github.com/admetric/backend/internal/infrastructure/persistence/schemas"
	"github.com/admetric/backend/internal/infrastructure/persistence/scope"
	"github.com/admetric/backend/internal/infrastructure/ratelimit"
	"github.com/admetric/backend/internal/infrastructure/telemetry"
	"github.com/admetric/backend/internal/interfaces/http/handler"
	"github.com/admetric/backend/internal/interfaces/http/middleware"
	"github.com/admetric/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	log.Info("Starting AdMetric Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	ctx := context.Background()

	// Initialize telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	governanceMetrics, err := telemetry.NewGovernanceMetrics(telemetry.GovernanceMetricsConfig{
		Meter:  meterProvider.Meter("admetric.governance"),
		Logger: log,
	})
	if err != nil {
		log.Fatal("Failed to initialize governance metrics", zap.Error(err))
	}

	// Connect to the catalog database
	db, err := persistence.NewDatabase(&cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Catalog database connected")

	// Ensure the tenant catalog table exists. Production deployments run the
	// migrate CLI instead; AutoMigrate here keeps development friction-free.
	if cfg.App.Env != "production" {
		if err := db.DB.AutoMigrate(&identity.Tenant{}); err != nil {
			log.Fatal("Failed to migrate tenant catalog", zap.Error(err))
		}
	}

	// Tenant catalog repository with short-TTL memoization; the middleware
	// resolves a tenant on every request.
	tenantRepo := persistence.NewCachedTenantRepository(
		persistence.NewGormTenantRepository(db.DB),
		cfg.Tenancy.CatalogCacheTTL,
	)

	// Schema router: one handle per tenant schema, with the scoped gateway's
	// callbacks installed on every new handle.
	callbacks := scope.NewCallbacks(scope.DefaultRegistry())
	schemaRouter := schemas.NewRouter(db.DB, cfg.Database, cfg.Tenancy,
		schemas.WithHandleHook(func(handle *gorm.DB) error {
			return callbacks.Register(handle)
		}),
	)
	defer func() {
		if err := schemaRouter.Close(); err != nil {
			log.Error("Error closing schema router", zap.Error(err))
		}
	}()

	// Rate limiter: Redis-backed counters with in-memory fallback.
	counterStore, err := ratelimit.NewStoreFactory(cfg.Redis, cfg.RateLimit,
		ratelimit.WithLogger(log),
	).CreateStore()
	if err != nil {
		log.Fatal("Failed to create rate limit counter store", zap.Error(err))
	}
	limiter := ratelimit.NewLimiter(counterStore, ratelimit.NewPlanLimits(cfg.RateLimit), cfg.RateLimit)
	defer func() {
		if err := limiter.Close(); err != nil {
			log.Error("Error closing rate limiter", zap.Error(err))
		}
	}()

	// Tenant cache: Redis-backed with in-memory fallback.
	tenantCache, err := cache.NewFactory(cfg.Redis, cfg.Cache,
		cache.WithLogger(log),
	).CreateCache()
	if err != nil {
		log.Fatal("Failed to create tenant cache", zap.Error(err))
	}
	defer func() {
		if err := tenantCache.Close(); err != nil {
			log.Error("Error closing tenant cache", zap.Error(err))
		}
	}()

	// HTTP handlers
	systemHandler := handler.NewSystemHandler(db)
	tenantHandler := handler.NewTenantHandler(tenantRepo, schemaRouter, limiter, tenantCache,
		handler.WithGovernanceMetrics(governanceMetrics),
	)
	campaignHandler := handler.NewCampaignHandler(schemaRouter, scope.DefaultRegistry(),
		handler.WithCampaignCache(tenantCache, cfg.Cache.DefaultTTL),
	)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Engine-wide middleware. Order matters: the request id must exist before
	// logging, and tracing must wrap everything tenant-aware.
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logging(log))
	engine.Use(middleware.Secure())

	corsConfig := middleware.DefaultCORSConfig()
	corsConfig.AllowOrigins = cfg.HTTP.CORSAllowOrigins
	engine.Use(middleware.CORSWithConfig(corsConfig))

	engine.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))

	// Liveness probe outside the versioned API; it must answer even when
	// tenant resolution is broken.
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	// Versioned API with tenant resolution and quota enforcement. The admin
	// surface (/tenants, /system) is on the skip list and runs tenant-free;
	// everything else requires a resolved, active tenant.
	r := router.NewRouter(engine,
		router.WithAPIVersion("v1"),
		router.WithGroupMiddleware(
			middleware.Tenant(middleware.TenantConfigFrom(cfg.Tenancy, tenantRepo)),
			middleware.TenantSpanAttributes(),
			middleware.RateLimit(middleware.RateLimitConfig{
				Enabled: cfg.RateLimit.Enabled,
				Limiter: limiter,
				Metrics: governanceMetrics,
				Resource: middleware.ResourceByRoute(map[string]string{
					"/api/v1/campaigns": ratelimit.ResourceCampaigns,
					"/api/v1/messages":  ratelimit.ResourceMessaging,
					"/api/v1/exports":   ratelimit.ResourceExports,
					"/api/v1/webhooks":  ratelimit.ResourceWebhooks,
				}),
			}),
		),
	)

	r.Register(systemHandler).
		Register(tenantHandler).
		Register(campaignHandler)
	r.Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
