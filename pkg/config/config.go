package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	BackendSupabase = "supabase"
	BackendPostgres = "postgres"

	PermissionCleanupCascade  = "cascade"
	PermissionCleanupExplicit = "explicit"

	LockNone   = "none"
	LockMemory = "memory"
	LockRedis  = "redis"
)

type SortOrder struct {
	Table      string `yaml:"table"`
	Column     string `yaml:"column"`
	Descending bool   `yaml:"descending"`
}

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		AllowedOrigins  []string      `yaml:"allowed_origins"`
		SecureCookies   bool          `yaml:"secure_cookies"`
		// TrustedProxies lists the proxies whose X-Forwarded-For is honored.
		// Empty means the remote address is always the client.
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"server"`

	Backend struct {
		Kind string `yaml:"kind"`

		Supabase struct {
			URL            string `yaml:"url"`
			AnonKey        string `yaml:"anon_key"`
			ServiceRoleKey string `yaml:"service_role_key"`
			Schema         string `yaml:"schema"`
		} `yaml:"supabase"`

		Postgres struct {
			DSN               string `yaml:"dsn"`
			Driver            string `yaml:"driver"` // postgres or sqlite
			MaxOpenConns      int    `yaml:"max_open_conns"`
			RowLevelSecurity  bool   `yaml:"row_level_security"`
			AuthenticatedRole string `yaml:"authenticated_role"`
		} `yaml:"postgres"`

		CircuitBreaker struct {
			Enabled          bool          `yaml:"enabled"`
			FailureThreshold int           `yaml:"failure_threshold"`
			SuccessThreshold int           `yaml:"success_threshold"`
			Timeout          time.Duration `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"backend"`

	Provisioning struct {
		CallTimeout       time.Duration `yaml:"call_timeout"`
		PermissionCleanup string        `yaml:"permission_cleanup"`
		LockBackend       string        `yaml:"lock_backend"`
		LockTTL           time.Duration `yaml:"lock_ttl"`
		LockWait          time.Duration `yaml:"lock_wait"`
		MembersRoute      string        `yaml:"members_route"`
	} `yaml:"provisioning"`

	Listing struct {
		FilteredOrder   SortOrder     `yaml:"filtered_order"`
		UnfilteredOrder SortOrder     `yaml:"unfiltered_order"`
		CacheEnabled    bool          `yaml:"cache_enabled"`
		CacheTTL        time.Duration `yaml:"cache_ttl"`
		CacheSize       int           `yaml:"cache_size"`
	} `yaml:"listing"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret      string        `yaml:"jwt_secret"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		Issuer         string        `yaml:"issuer"`
	} `yaml:"auth"`

	Revalidate struct {
		WebSocketEnabled bool          `yaml:"websocket_enabled"`
		PingInterval     time.Duration `yaml:"ping_interval"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		Channel          string        `yaml:"channel"`
	} `yaml:"revalidate"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"` // global concurrent HTTP requests
		} `yaml:"http"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Backend
	switch c.Backend.Kind {
	case BackendSupabase:
		if c.Backend.Supabase.URL == "" {
			return fmt.Errorf("backend.supabase.url must not be empty when backend.kind=supabase")
		}
		if c.Backend.Supabase.ServiceRoleKey == "" {
			return fmt.Errorf("backend.supabase.service_role_key must not be empty when backend.kind=supabase")
		}
		if c.Backend.Supabase.AnonKey == "" {
			return fmt.Errorf("backend.supabase.anon_key must not be empty when backend.kind=supabase")
		}
	case BackendPostgres:
		if c.Backend.Postgres.DSN == "" {
			return fmt.Errorf("backend.postgres.dsn must not be empty when backend.kind=postgres")
		}
		if c.Backend.Postgres.Driver != "postgres" && c.Backend.Postgres.Driver != "sqlite" {
			return fmt.Errorf("backend.postgres.driver must be postgres or sqlite")
		}
	default:
		return fmt.Errorf("backend.kind must be %q or %q, got %q", BackendSupabase, BackendPostgres, c.Backend.Kind)
	}
	if c.Backend.CircuitBreaker.Enabled {
		if c.Backend.CircuitBreaker.FailureThreshold <= 0 {
			return fmt.Errorf("backend.circuit_breaker.failure_threshold must be > 0")
		}
		if c.Backend.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("backend.circuit_breaker.timeout must be > 0")
		}
	}

	// Provisioning
	if c.Provisioning.CallTimeout <= 0 {
		return fmt.Errorf("provisioning.call_timeout must be > 0")
	}
	switch c.Provisioning.PermissionCleanup {
	case PermissionCleanupCascade, PermissionCleanupExplicit:
	default:
		return fmt.Errorf("provisioning.permission_cleanup must be %q or %q", PermissionCleanupCascade, PermissionCleanupExplicit)
	}
	switch c.Provisioning.LockBackend {
	case LockNone, LockMemory:
	case LockRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("provisioning.lock_backend=redis requires redis.enabled=true")
		}
	default:
		return fmt.Errorf("provisioning.lock_backend must be none, memory or redis")
	}
	if c.Provisioning.LockBackend != LockNone && c.Provisioning.LockTTL <= 0 {
		return fmt.Errorf("provisioning.lock_ttl must be > 0 when locking is enabled")
	}
	if !strings.HasPrefix(c.Provisioning.MembersRoute, "/") {
		return fmt.Errorf("provisioning.members_route must start with /")
	}

	// Listing
	for name, order := range map[string]SortOrder{
		"listing.filtered_order":   c.Listing.FilteredOrder,
		"listing.unfiltered_order": c.Listing.UnfilteredOrder,
	} {
		if order.Table != "permission" && order.Table != "members" {
			return fmt.Errorf("%s.table must be permission or members", name)
		}
		if order.Column == "" {
			return fmt.Errorf("%s.column must not be empty", name)
		}
	}
	if c.Listing.CacheEnabled {
		if c.Listing.CacheTTL <= 0 {
			return fmt.Errorf("listing.cache_ttl must be > 0 when listing.cache_enabled=true")
		}
		if c.Listing.CacheSize <= 0 {
			return fmt.Errorf("listing.cache_size must be > 0 when listing.cache_enabled=true")
		}
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Auth
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty")
	}
	if c.Auth.AccessTokenTTL <= 0 {
		return fmt.Errorf("auth.access_token_ttl must be > 0")
	}

	// Revalidate
	if c.Revalidate.WebSocketEnabled {
		if c.Revalidate.PingInterval <= 0 {
			return fmt.Errorf("revalidate.ping_interval must be > 0")
		}
		if c.Revalidate.WriteTimeout <= 0 {
			return fmt.Errorf("revalidate.write_timeout must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
// A .env file next to the working directory is loaded first if present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second
	cfg.Server.AllowedOrigins = []string{"*"}

	cfg.Backend.Kind = BackendPostgres
	cfg.Backend.Supabase.Schema = "public"
	cfg.Backend.Postgres.Driver = "postgres"
	cfg.Backend.Postgres.DSN = "host=localhost user=postgres password=postgres dbname=memberdash port=5432 sslmode=disable"
	cfg.Backend.Postgres.MaxOpenConns = 10
	cfg.Backend.Postgres.RowLevelSecurity = false
	cfg.Backend.Postgres.AuthenticatedRole = "authenticated"
	cfg.Backend.CircuitBreaker.Enabled = true
	cfg.Backend.CircuitBreaker.FailureThreshold = 5
	cfg.Backend.CircuitBreaker.SuccessThreshold = 2
	cfg.Backend.CircuitBreaker.Timeout = 30 * time.Second

	cfg.Provisioning.CallTimeout = 10 * time.Second
	cfg.Provisioning.PermissionCleanup = PermissionCleanupCascade
	cfg.Provisioning.LockBackend = LockNone
	cfg.Provisioning.LockTTL = 30 * time.Second
	cfg.Provisioning.LockWait = 5 * time.Second
	cfg.Provisioning.MembersRoute = "/dashboard/members"

	// The filtered and unfiltered listings sort differently on purpose; see DESIGN.md.
	cfg.Listing.FilteredOrder = SortOrder{Table: "permission", Column: "created_at", Descending: true}
	cfg.Listing.UnfilteredOrder = SortOrder{Table: "members", Column: "created_at", Descending: false}
	cfg.Listing.CacheEnabled = false
	cfg.Listing.CacheTTL = time.Minute
	cfg.Listing.CacheSize = 512

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.AccessTokenTTL = time.Hour
	cfg.Auth.Issuer = "memberdash"

	cfg.Revalidate.WebSocketEnabled = true
	cfg.Revalidate.PingInterval = 30 * time.Second
	cfg.Revalidate.WriteTimeout = 10 * time.Second
	cfg.Revalidate.Channel = "memberdash:revalidate"

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.HTTP.MaxConcurrent = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("MEMBERDASH_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("MEMBERDASH_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("MEMBERDASH_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if kind := os.Getenv("MEMBERDASH_BACKEND"); kind != "" {
		c.Backend.Kind = kind
	}
	if url := os.Getenv("SUPABASE_URL"); url != "" {
		c.Backend.Supabase.URL = url
	}
	if key := os.Getenv("SUPABASE_ANON_KEY"); key != "" {
		c.Backend.Supabase.AnonKey = key
	}
	if key := os.Getenv("SUPABASE_SERVICE_ROLE_KEY"); key != "" {
		c.Backend.Supabase.ServiceRoleKey = key
	}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		c.Backend.Postgres.DSN = dsn
	}
	if addr := os.Getenv("MEMBERDASH_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
}
