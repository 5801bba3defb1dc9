package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Tenancy   TenancyConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Telemetry TelemetryConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings for the shared cluster.
// Per-tenant schema handles are derived from the same settings with a pinned
// search_path.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes

	// Per-tenant handles are deliberately smaller than the catalog pool;
	// every active tenant holds one.
	TenantMaxOpenConns int
	TenantMaxIdleConns int
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address for the Redis client.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// HTTPConfig holds HTTP server configuration
type HTTPConfig struct {
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	MaxHeaderBytes   int
	TrustedProxies   []string
	CORSAllowOrigins []string
}

// TenancyConfig holds tenant resolution and provisioning settings
type TenancyConfig struct {
	HeaderEnabled      bool          // accept X-Tenant-ID
	SubdomainEnabled   bool          // resolve tenant slug from subdomain
	BaseDomain         string        // base domain for subdomain resolution
	ProvisionTimeout   time.Duration // upper bound on schema DDL
	ConnectTimeout     time.Duration // upper bound on first connection per schema
	CatalogCacheTTL    time.Duration // tenant catalog lookup memoization
	RequireActive      bool          // reject suspended tenants at the edge
}

// RateLimitConfig holds quota enforcement settings
type RateLimitConfig struct {
	Enabled      bool
	OpTimeout    time.Duration // per counter-store call; short, fail-open beyond it
	SweepEnabled bool
	SweepEvery   time.Duration
	SweepMaxAge  time.Duration // counters older than this are purged defensively
	Plans        map[string]map[string]ResourceLimit
}

// ResourceLimit is one plan's quota for one resource type.
type ResourceLimit struct {
	Requests int
	Window   time.Duration
}

// CacheConfig holds tenant cache settings
type CacheConfig struct {
	KeyPrefix  string
	DefaultTTL time.Duration
	OpTimeout  time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool
	CollectorEndpoint string
	SamplingRatio     float64
	ServiceName       string
	Insecure          bool
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ADMETRIC_ prefix (e.g. ADMETRIC_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ADMETRIC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Host:               v.GetString("database.host"),
			Port:               v.GetInt("database.port"),
			User:               v.GetString("database.user"),
			Password:           v.GetString("database.password"),
			DBName:             v.GetString("database.dbname"),
			SSLMode:            v.GetString("database.sslmode"),
			MaxOpenConns:       v.GetInt("database.max_open_conns"),
			MaxIdleConns:       v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime:    v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime:    v.GetInt("database.conn_max_idle_time"),
			TenantMaxOpenConns: v.GetInt("database.tenant_max_open_conns"),
			TenantMaxIdleConns: v.GetInt("database.tenant_max_idle_conns"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			IdleTimeout:      v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes:   v.GetInt("http.max_header_bytes"),
			TrustedProxies:   v.GetStringSlice("http.trusted_proxies"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Tenancy: TenancyConfig{
			HeaderEnabled:    v.GetBool("tenancy.header_enabled"),
			SubdomainEnabled: v.GetBool("tenancy.subdomain_enabled"),
			BaseDomain:       v.GetString("tenancy.base_domain"),
			ProvisionTimeout: v.GetDuration("tenancy.provision_timeout"),
			ConnectTimeout:   v.GetDuration("tenancy.connect_timeout"),
			CatalogCacheTTL:  v.GetDuration("tenancy.catalog_cache_ttl"),
			RequireActive:    v.GetBool("tenancy.require_active"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("ratelimit.enabled"),
			OpTimeout:    v.GetDuration("ratelimit.op_timeout"),
			SweepEnabled: v.GetBool("ratelimit.sweep_enabled"),
			SweepEvery:   v.GetDuration("ratelimit.sweep_every"),
			SweepMaxAge:  v.GetDuration("ratelimit.sweep_max_age"),
			Plans:        loadPlans(v),
		},
		Cache: CacheConfig{
			KeyPrefix:  v.GetString("cache.key_prefix"),
			DefaultTTL: v.GetDuration("cache.default_ttl"),
			OpTimeout:  v.GetDuration("cache.op_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadPlans reads per-plan resource limits from configuration, e.g.
//
//	[ratelimit.plans.free.api]
//	requests = 100
//	window = "60s"
//
// Plans or resources absent from the file keep their built-in defaults.
func loadPlans(v *viper.Viper) map[string]map[string]ResourceLimit {
	plans := make(map[string]map[string]ResourceLimit)
	raw := v.GetStringMap("ratelimit.plans")
	for plan := range raw {
		resources := v.GetStringMap("ratelimit.plans." + plan)
		limits := make(map[string]ResourceLimit, len(resources))
		for resource := range resources {
			prefix := fmt.Sprintf("ratelimit.plans.%s.%s.", plan, resource)
			limits[resource] = ResourceLimit{
				Requests: v.GetInt(prefix + "requests"),
				Window:   v.GetDuration(prefix + "window"),
			}
		}
		plans[plan] = limits
	}
	return plans
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "admetric-backend"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "admetric"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Database.TenantMaxOpenConns == 0 {
		cfg.Database.TenantMaxOpenConns = 5
	}
	if cfg.Database.TenantMaxIdleConns == 0 {
		cfg.Database.TenantMaxIdleConns = 2
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if !cfg.Tenancy.HeaderEnabled && !cfg.Tenancy.SubdomainEnabled {
		cfg.Tenancy.HeaderEnabled = true
	}
	if cfg.Tenancy.ProvisionTimeout == 0 {
		cfg.Tenancy.ProvisionTimeout = 30 * time.Second
	}
	if cfg.Tenancy.ConnectTimeout == 0 {
		cfg.Tenancy.ConnectTimeout = 10 * time.Second
	}
	if cfg.Tenancy.CatalogCacheTTL == 0 {
		cfg.Tenancy.CatalogCacheTTL = 5 * time.Minute
	}
	if cfg.RateLimit.OpTimeout == 0 {
		cfg.RateLimit.OpTimeout = 500 * time.Millisecond
	}
	if cfg.RateLimit.SweepEvery == 0 {
		cfg.RateLimit.SweepEvery = 10 * time.Minute
	}
	if cfg.RateLimit.SweepMaxAge == 0 {
		cfg.RateLimit.SweepMaxAge = time.Hour
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "cache"
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = 10 * time.Minute
	}
	if cfg.Cache.OpTimeout == 0 {
		cfg.Cache.OpTimeout = 500 * time.Millisecond
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "admetric-backend"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}
	if c.Database.TenantMaxIdleConns > c.Database.TenantMaxOpenConns {
		return fmt.Errorf("database.tenant_max_idle_conns (%d) cannot exceed database.tenant_max_open_conns (%d)",
			c.Database.TenantMaxIdleConns, c.Database.TenantMaxOpenConns)
	}

	for plan, resources := range c.RateLimit.Plans {
		for resource, limit := range resources {
			if limit.Requests < 0 {
				return fmt.Errorf("ratelimit.plans.%s.%s.requests cannot be negative", plan, resource)
			}
			if limit.Requests > 0 && limit.Window <= 0 {
				return fmt.Errorf("ratelimit.plans.%s.%s.window must be positive", plan, resource)
			}
		}
	}

	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		for _, origin := range c.HTTP.CORSAllowOrigins {
			if origin == "*" {
				return fmt.Errorf("cors_allow_origins cannot be '*' in production (use specific origins)")
			}
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	return d.DSNForSchema("")
}

// DSNForSchema returns a connection string whose search_path is pinned to the
// given schema. An empty schema yields the default search_path.
func (d *DatabaseConfig) DSNForSchema(schema string) string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	if schema != "" {
		q.Set("search_path", schema)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
