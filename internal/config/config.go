// Package config resolves runtime settings once at start-up from defaults,
// an optional config file, DOMVAL_* environment variables and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/FranksOps/domval/internal/fingerprint"
)

// EnvPrefix is prepended to every environment variable, e.g.
// DOMVAL_BASE_URL or DOMVAL_CACHE_TYPE.
const EnvPrefix = "DOMVAL"

type Config struct {
	BaseURL    string `mapstructure:"base_url"`
	UserAgent  string `mapstructure:"user_agent"`
	TLSProfile string `mapstructure:"tls_profile"`

	SingleTimeout      time.Duration `mapstructure:"single_timeout"`
	SingleRetryTimeout time.Duration `mapstructure:"single_retry_timeout"`
	BulkTimeout        time.Duration `mapstructure:"bulk_timeout"`
	BulkRetryTimeout   time.Duration `mapstructure:"bulk_retry_timeout"`
	WarmupTimeout      time.Duration `mapstructure:"warmup_timeout"`
	// Retries after a timed out request: 0 or 1.
	Retries  int           `mapstructure:"retries"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`

	Cache     CacheConfig     `mapstructure:"cache"`
	Store     StoreConfig     `mapstructure:"store"`
	Tracker   TrackerConfig   `mapstructure:"tracker"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`

	// MetricsPort starts a standalone /metrics listener for CLI runs when
	// non-zero.
	MetricsPort int `mapstructure:"metrics_port"`
}

type CacheConfig struct {
	Type            string        `mapstructure:"type"`
	Expiration      time.Duration `mapstructure:"expiration"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	RedisPrefix     string        `mapstructure:"redis_prefix"`
}

type StoreConfig struct {
	Type string `mapstructure:"type"`
	// Path is the file for sqlite and json stores.
	Path string `mapstructure:"path"`
	DSN  string `mapstructure:"dsn"`
}

type TrackerConfig struct {
	Limit       int           `mapstructure:"limit"`
	Window      time.Duration `mapstructure:"window"`
	PromptAfter int           `mapstructure:"prompt_after"`
}

// RateLimitConfig paces outbound requests to the valuation API.
type RateLimitConfig struct {
	RPS    float64 `mapstructure:"rps"`
	Burst  int     `mapstructure:"burst"`
	// Jitter adds up to this fraction of the request interval, 0 to 1.
	Jitter float64 `mapstructure:"jitter"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
	// AdmitRPS rejects proxy requests beyond this rate with 429. Zero
	// admits everything.
	AdmitRPS   float64 `mapstructure:"admit_rps"`
	AdmitBurst int     `mapstructure:"admit_burst"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers every key with its default so that environment
// variables are picked up by Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("base_url", "")
	v.SetDefault("user_agent", "domval/1.0")
	v.SetDefault("tls_profile", string(fingerprint.ProfileGo))

	v.SetDefault("single_timeout", 18*time.Second)
	v.SetDefault("single_retry_timeout", 15*time.Second)
	v.SetDefault("bulk_timeout", 30*time.Second)
	v.SetDefault("bulk_retry_timeout", 25*time.Second)
	v.SetDefault("warmup_timeout", 10*time.Second)
	v.SetDefault("retries", 1)
	v.SetDefault("cache_ttl", 5*time.Minute)

	v.SetDefault("cache.type", "memory")
	v.SetDefault("cache.expiration", time.Duration(0))
	v.SetDefault("cache.cleanup_interval", time.Duration(0))
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.redis_prefix", "domval:")

	v.SetDefault("store.type", "json")
	v.SetDefault("store.path", "domval-usage.json")
	v.SetDefault("store.dsn", "")

	v.SetDefault("tracker.limit", 10)
	v.SetDefault("tracker.window", 60*time.Second)
	v.SetDefault("tracker.prompt_after", 3)

	v.SetDefault("rate_limit.rps", 0.0)
	v.SetDefault("rate_limit.burst", 1)
	v.SetDefault("rate_limit.jitter", 0.0)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.admit_rps", 0.0)
	v.SetDefault("server.admit_burst", 20)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics_port", 0)
}

// NewViper returns a viper instance with defaults and DOMVAL_ environment
// binding in place.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configFile when given and returns the validated settings.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error

	if c.Retries < 0 || c.Retries > 1 {
		errs = append(errs, fmt.Errorf("retries must be 0 or 1, got %d", c.Retries))
	}
	for name, d := range map[string]time.Duration{
		"single_timeout":       c.SingleTimeout,
		"single_retry_timeout": c.SingleRetryTimeout,
		"bulk_timeout":         c.BulkTimeout,
		"bulk_retry_timeout":   c.BulkRetryTimeout,
		"warmup_timeout":       c.WarmupTimeout,
		"cache_ttl":            c.CacheTTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}

	switch c.Cache.Type {
	case "memory":
	case "redis":
		if c.Cache.RedisAddr == "" {
			errs = append(errs, errors.New("cache.redis_addr is required for the redis cache"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache.type %q", c.Cache.Type))
	}

	switch c.Store.Type {
	case "memory":
	case "json", "sqlite":
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for the %s store", c.Store.Type))
		}
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store.dsn is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store.type %q", c.Store.Type))
	}

	if _, err := fingerprint.ParseProfile(c.TLSProfile); err != nil {
		errs = append(errs, err)
	}
	if c.RateLimit.RPS < 0 || c.Server.AdmitRPS < 0 {
		errs = append(errs, errors.New("rate limits cannot be negative"))
	}
	if c.RateLimit.Jitter < 0 || c.RateLimit.Jitter > 1 {
		errs = append(errs, fmt.Errorf("rate_limit.jitter must be between 0 and 1, got %v", c.RateLimit.Jitter))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// ValuationRetries maps the configured retry count onto the valuation
// client's convention, where zero selects the default and negative
// disables retries.
func (c *Config) ValuationRetries() int {
	if c.Retries == 0 {
		return -1
	}
	return c.Retries
}
