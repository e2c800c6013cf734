package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/FranksOps/domval/internal/cache"
	"github.com/FranksOps/domval/internal/config"
	"github.com/FranksOps/domval/internal/fingerprint"
	"github.com/FranksOps/domval/internal/metrics"
	"github.com/FranksOps/domval/internal/pipeline"
	"github.com/FranksOps/domval/internal/storage"
	"github.com/FranksOps/domval/internal/storage/jsonbackend"
	"github.com/FranksOps/domval/internal/storage/postgres"
	"github.com/FranksOps/domval/internal/storage/sqlite"
	"github.com/FranksOps/domval/internal/tracker"
	"github.com/FranksOps/domval/internal/valuation"
	"github.com/FranksOps/domval/pkg/httpclient"
	"github.com/FranksOps/domval/pkg/ratelimit"
)

// app holds the components built from configuration for one command run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   *valuation.Client
	tracker  *tracker.Tracker
	pipeline *pipeline.Pipeline
	metrics  *metrics.Server
	closers  []io.Closer
}

func (a *app) Close() {
	if a.metrics != nil {
		_ = a.metrics.Stop(context.Background())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

func newRootCmd() *cobra.Command {
	v := config.NewViper()
	var configFile string

	root := &cobra.Command{
		Use:           "domval",
		Short:         "Validate and value domain names",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// A missing .env is normal.
			_ = godotenv.Load()
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "config file (yaml, json or toml)")
	flags.String("base-url", "", "valuation API base URL")
	flags.String("log-level", "info", "log level: debug, info, warn, error")
	flags.String("log-format", "text", "log format: text or json")
	flags.String("tls-profile", "", "TLS fingerprint: go, chrome, firefox, safari, random")
	flags.String("store", "", "usage store: memory, json, sqlite, postgres")
	flags.String("store-path", "", "file for json and sqlite stores")
	flags.String("cache", "", "response cache: memory or redis")
	flags.Int("metrics-port", 0, "serve /metrics on this port while running")

	for key, flag := range map[string]string{
		"base_url":     "base-url",
		"log.level":    "log-level",
		"log.format":   "log-format",
		"tls_profile":  "tls-profile",
		"store.type":   "store",
		"store.path":   "store-path",
		"cache.type":   "cache",
		"metrics_port": "metrics-port",
	} {
		_ = v.BindPFlag(key, flags.Lookup(flag))
	}

	load := func(cmd *cobra.Command) (*app, error) {
		cfg, err := config.Load(v, configFile)
		if err != nil {
			return nil, err
		}
		logger := newLogger(cmd.ErrOrStderr(), cfg.Log)
		slog.SetDefault(logger)
		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			logger.Error("startup failed", "err", err)
			return nil, err
		}
		return a, nil
	}

	root.AddCommand(
		newValueCmd(load),
		newBulkCmd(load),
		newWarmupCmd(load),
		newUsageCmd(load),
		newServeCmd(load),
	)
	return root
}

type loader func(cmd *cobra.Command) (*app, error)

// newLogger installs charmbracelet/log as the slog handler for text output
// and the standard JSON handler otherwise.
func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}

	handler := charmlog.NewWithOptions(w, charmlog.Options{
		Level:           charmlog.Level(level),
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "domval",
	})
	return slog.New(handler)
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	profile, err := fingerprint.ParseProfile(cfg.TLSProfile)
	if err != nil {
		return nil, err
	}
	transport, err := fingerprint.Transport(profile)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("User-Agent", cfg.UserAgent)
	hc, err := httpclient.New(httpclient.Config{
		Timeout:   cfg.BulkTimeout + cfg.BulkRetryTimeout + cfg.WarmupTimeout,
		Transport: transport,
		Header:    header,
	})
	if err != nil {
		return nil, err
	}

	store, err := newStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store)

	a.tracker = tracker.New(tracker.Config{
		Backend:     store,
		Window:      cfg.Tracker.Window,
		Limit:       cfg.Tracker.Limit,
		PromptAfter: cfg.Tracker.PromptAfter,
		Logger:      logger.With("component", "tracker"),
	})
	a.pipeline = &pipeline.Pipeline{Tracker: a.tracker, Logger: logger}

	// Commands that only touch local state work without a service.
	if cfg.BaseURL == "" {
		return a, nil
	}

	respCache, err := newCache(ctx, a, cfg.Cache)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.client, err = valuation.New(valuation.Config{
		BaseURL:            cfg.BaseURL,
		SingleTimeout:      cfg.SingleTimeout,
		SingleRetryTimeout: cfg.SingleRetryTimeout,
		BulkTimeout:        cfg.BulkTimeout,
		BulkRetryTimeout:   cfg.BulkRetryTimeout,
		WarmupTimeout:      cfg.WarmupTimeout,
		CacheTTL:           cfg.CacheTTL,
		Retries:            cfg.ValuationRetries(),
		UserAgent:          cfg.UserAgent,
		HTTPClient:         hc,
		Cache:              respCache,
		Limiter:            ratelimit.NewBurstLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, cfg.RateLimit.Jitter),
		Logger:             logger.With("component", "valuation"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.pipeline.Valuer = a.client

	if cfg.MetricsPort > 0 {
		a.metrics = metrics.Start(cfg.MetricsPort, logger)
	}
	return a, nil
}

func newCache(ctx context.Context, a *app, cfg config.CacheConfig) (cache.Cache, error) {
	switch cfg.Type {
	case "redis":
		r, err := cache.NewRedis(ctx, cache.RedisConfig{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			Prefix:     cfg.RedisPrefix,
			Expiration: cfg.Expiration,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r)
		return r, nil
	case "memory", "":
		return cache.NewMemory(cache.MemoryConfig{
			Expiration:      cfg.Expiration,
			CleanupInterval: cfg.CleanupInterval,
		}), nil
	default:
		return nil, fmt.Errorf("unknown cache type %q", cfg.Type)
	}
}

func newStore(ctx context.Context, cfg config.StoreConfig) (storage.Backend, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemory(), nil
	case "json":
		return jsonbackend.New(cfg.Path)
	case "sqlite":
		return sqlite.New(cfg.Path)
	case "postgres":
		return postgres.New(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// errRequiresBaseURL is returned by commands that talk to the service
// when no base URL was configured.
var errRequiresBaseURL = errors.New("a valuation API base URL is required (--base-url or DOMVAL_BASE_URL)")

// requireClient fails commands that need the valuation service when no
// base URL is configured.
func (a *app) requireClient() error {
	if a.client == nil {
		return errRequiresBaseURL
	}
	return nil
}
