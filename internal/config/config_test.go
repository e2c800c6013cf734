package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.SingleTimeout != 18*time.Second || cfg.SingleRetryTimeout != 15*time.Second {
		t.Errorf("unexpected single timeouts %s/%s", cfg.SingleTimeout, cfg.SingleRetryTimeout)
	}
	if cfg.BulkTimeout != 30*time.Second || cfg.BulkRetryTimeout != 25*time.Second {
		t.Errorf("unexpected bulk timeouts %s/%s", cfg.BulkTimeout, cfg.BulkRetryTimeout)
	}
	if cfg.CacheTTL != 5*time.Minute {
		t.Errorf("expected 5m cache TTL, got %s", cfg.CacheTTL)
	}
	if cfg.Retries != 1 || cfg.ValuationRetries() != 1 {
		t.Errorf("expected one retry, got %d", cfg.Retries)
	}
	if cfg.Tracker.Limit != 10 || cfg.Tracker.Window != time.Minute || cfg.Tracker.PromptAfter != 3 {
		t.Errorf("unexpected tracker defaults %+v", cfg.Tracker)
	}
	if cfg.Cache.Type != "memory" || cfg.Store.Type != "json" {
		t.Errorf("unexpected backends %s/%s", cfg.Cache.Type, cfg.Store.Type)
	}
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("DOMVAL_BASE_URL", "https://api.example.com")
	t.Setenv("DOMVAL_SINGLE_TIMEOUT", "3s")
	t.Setenv("DOMVAL_RETRIES", "0")
	t.Setenv("DOMVAL_CACHE_TYPE", "redis")
	t.Setenv("DOMVAL_CACHE_REDIS_ADDR", "cache:6379")
	t.Setenv("DOMVAL_STORE_TYPE", "sqlite")
	t.Setenv("DOMVAL_STORE_PATH", "/tmp/usage.db")

	cfg, err := Load(NewViper(), "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL != "https://api.example.com" {
		t.Errorf("unexpected base URL %q", cfg.BaseURL)
	}
	if cfg.SingleTimeout != 3*time.Second {
		t.Errorf("expected 3s, got %s", cfg.SingleTimeout)
	}
	if cfg.Retries != 0 || cfg.ValuationRetries() >= 0 {
		t.Errorf("zero retries should disable retrying, got %d -> %d", cfg.Retries, cfg.ValuationRetries())
	}
	if cfg.Cache.Type != "redis" || cfg.Cache.RedisAddr != "cache:6379" {
		t.Errorf("unexpected cache %+v", cfg.Cache)
	}
	if cfg.Store.Type != "sqlite" || cfg.Store.Path != "/tmp/usage.db" {
		t.Errorf("unexpected store %+v", cfg.Store)
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "domval.yaml")
	content := `
base_url: https://values.example.org
bulk_timeout: 45s
tracker:
  limit: 5
server:
  admit_rps: 2.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("setup failed: %v", err)
	}

	cfg, err := Load(NewViper(), path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BaseURL != "https://values.example.org" || cfg.BulkTimeout != 45*time.Second {
		t.Errorf("file values not applied: %+v", cfg)
	}
	if cfg.Tracker.Limit != 5 || cfg.Tracker.PromptAfter != 3 {
		t.Errorf("expected nested override with defaults kept, got %+v", cfg.Tracker)
	}
	if cfg.Server.AdmitRPS != 2.5 {
		t.Errorf("expected admit_rps 2.5, got %v", cfg.Server.AdmitRPS)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load(NewViper(), "")
		if err != nil {
			t.Fatalf("defaults should validate: %v", err)
		}
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"too many retries", func(c *Config) { c.Retries = 2 }, "retries"},
		{"negative retries", func(c *Config) { c.Retries = -1 }, "retries"},
		{"zero timeout", func(c *Config) { c.SingleTimeout = 0 }, "single_timeout"},
		{"unknown cache", func(c *Config) { c.Cache.Type = "memcached" }, "cache.type"},
		{"redis without addr", func(c *Config) { c.Cache.Type = "redis"; c.Cache.RedisAddr = "" }, "redis_addr"},
		{"unknown store", func(c *Config) { c.Store.Type = "mongo" }, "store.type"},
		{"postgres without dsn", func(c *Config) { c.Store.Type = "postgres" }, "store.dsn"},
		{"sqlite without path", func(c *Config) { c.Store.Type = "sqlite"; c.Store.Path = "" }, "store.path"},
		{"bad tls profile", func(c *Config) { c.TLSProfile = "netscape" }, "netscape"},
		{"negative rps", func(c *Config) { c.RateLimit.RPS = -1 }, "negative"},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
