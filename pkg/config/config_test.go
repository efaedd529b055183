package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to be valid, got: %v", err)
	}
}

func TestDefaultConfig_PreservesListingAsymmetry(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Listing.FilteredOrder.Table != "permission" || !cfg.Listing.FilteredOrder.Descending {
		t.Fatalf("filtered listing should sort permission.created_at desc, got %+v", cfg.Listing.FilteredOrder)
	}
	if cfg.Listing.UnfilteredOrder.Table != "members" || cfg.Listing.UnfilteredOrder.Descending {
		t.Fatalf("unfiltered listing should sort members.created_at asc, got %+v", cfg.Listing.UnfilteredOrder)
	}
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "unknown backend kind",
			mutate: func(c *Config) { c.Backend.Kind = "firebase" },
		},
		{
			name: "supabase without service role key",
			mutate: func(c *Config) {
				c.Backend.Kind = BackendSupabase
				c.Backend.Supabase.URL = "https://x.supabase.co"
				c.Backend.Supabase.AnonKey = "anon"
			},
		},
		{
			name:   "postgres with unknown driver",
			mutate: func(c *Config) { c.Backend.Postgres.Driver = "mysql" },
		},
		{
			name:   "call timeout must be > 0",
			mutate: func(c *Config) { c.Provisioning.CallTimeout = 0 },
		},
		{
			name:   "unknown permission cleanup",
			mutate: func(c *Config) { c.Provisioning.PermissionCleanup = "orphan" },
		},
		{
			name:   "redis lock without redis",
			mutate: func(c *Config) { c.Provisioning.LockBackend = LockRedis },
		},
		{
			name:   "members route must be absolute",
			mutate: func(c *Config) { c.Provisioning.MembersRoute = "dashboard/members" },
		},
		{
			name:   "listing order table",
			mutate: func(c *Config) { c.Listing.UnfilteredOrder.Table = "identities" },
		},
		{
			name: "listing cache size",
			mutate: func(c *Config) {
				c.Listing.CacheEnabled = true
				c.Listing.CacheSize = 0
			},
		},
		{
			name:   "empty jwt secret",
			mutate: func(c *Config) { c.Auth.JWTSecret = "" },
		},
		{
			name: "rate limiting burst",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestLoad_YAMLAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlContent := `
server:
  address: ":9090"
provisioning:
  call_timeout: 3s
  permission_cleanup: explicit
listing:
  unfiltered_order:
    table: members
    column: name
    descending: false
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MEMBERDASH_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Address != ":9090" {
		t.Errorf("server.address = %q, want :9090", cfg.Server.Address)
	}
	if cfg.Provisioning.CallTimeout != 3*time.Second {
		t.Errorf("call_timeout = %v, want 3s", cfg.Provisioning.CallTimeout)
	}
	if cfg.Provisioning.PermissionCleanup != PermissionCleanupExplicit {
		t.Errorf("permission_cleanup = %q, want explicit", cfg.Provisioning.PermissionCleanup)
	}
	if cfg.Listing.UnfilteredOrder.Column != "name" {
		t.Errorf("unfiltered_order.column = %q, want name", cfg.Listing.UnfilteredOrder.Column)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Errorf("jwt_secret = %q, want env override", cfg.Auth.JWTSecret)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Address != ":8080" {
		t.Errorf("server.address = %q, want default", cfg.Server.Address)
	}
}
