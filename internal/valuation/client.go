// Package valuation talks to the external domain valuation API. Lookups
// are served from the response cache when fresh; a timed out request is
// retried once after a best-effort warm-up of the service.
package valuation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/FranksOps/domval/internal/apierror"
	"github.com/FranksOps/domval/internal/cache"
	"github.com/FranksOps/domval/internal/metrics"
	"github.com/FranksOps/domval/pkg/httpclient"
	"github.com/FranksOps/domval/pkg/ratelimit"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	opSingle = "value"
	opBulk   = "bulk"

	pathValue     = "/api/value"
	pathBulkValue = "/api/bulk-value"
	pathWarmup    = "/warmup"

	maxErrorBody = 512
)

// Defaults applied by New for zero-valued Config fields.
const (
	DefaultSingleTimeout      = 18 * time.Second
	DefaultSingleRetryTimeout = 15 * time.Second
	DefaultBulkTimeout        = 30 * time.Second
	DefaultBulkRetryTimeout   = 25 * time.Second
	DefaultWarmupTimeout      = 10 * time.Second
	DefaultRetries            = 1
)

// Config configures a Client.
type Config struct {
	BaseURL            string
	SingleTimeout      time.Duration
	SingleRetryTimeout time.Duration
	BulkTimeout        time.Duration
	BulkRetryTimeout   time.Duration
	WarmupTimeout      time.Duration
	// CacheTTL is how long a cached response counts as fresh.
	CacheTTL time.Duration
	// Retries after a timeout. Zero means DefaultRetries; negative disables.
	Retries   int
	UserAgent string

	HTTPClient *httpclient.Client
	Cache      cache.Cache
	// Limiter paces outbound valuation attempts. Nil means unpaced.
	Limiter *ratelimit.Limiter
	Logger  *slog.Logger
	// Now is the clock used for cache freshness.
	Now func() time.Time
}

// Client issues single and bulk valuation requests.
type Client struct {
	cfg    Config
	http   *httpclient.Client
	cache  cache.Cache
	logger *slog.Logger
	now    func() time.Time
	flight singleflight.Group
}

// New builds a Client, filling unset Config fields with defaults. A nil
// Cache gets a process-local memory cache.
func New(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, errors.New("valuation: base URL is required")
	}
	if cfg.SingleTimeout <= 0 {
		cfg.SingleTimeout = DefaultSingleTimeout
	}
	if cfg.SingleRetryTimeout <= 0 {
		cfg.SingleRetryTimeout = DefaultSingleRetryTimeout
	}
	if cfg.BulkTimeout <= 0 {
		cfg.BulkTimeout = DefaultBulkTimeout
	}
	if cfg.BulkRetryTimeout <= 0 {
		cfg.BulkRetryTimeout = DefaultBulkRetryTimeout
	}
	if cfg.WarmupTimeout <= 0 {
		cfg.WarmupTimeout = DefaultWarmupTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}
	if cfg.Retries == 0 {
		cfg.Retries = DefaultRetries
	} else if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cache == nil {
		cfg.Cache = cache.NewMemory(cache.MemoryConfig{})
	}

	hc := cfg.HTTPClient
	if hc == nil {
		// Per-attempt deadlines ride on the context; the client-wide timeout
		// only has to outlast the longest of them.
		var err error
		hc, err = httpclient.New(httpclient.Config{Timeout: cfg.BulkTimeout + 5*time.Second})
		if err != nil {
			return nil, fmt.Errorf("valuation: %w", err)
		}
	}

	return &Client{
		cfg:    cfg,
		http:   hc,
		cache:  cfg.Cache,
		logger: cfg.Logger,
		now:    cfg.Now,
	}, nil
}

// GetSingle returns the valuation for one domain. A fresh cached response
// is returned without touching the network. Failures are
// *apierror.TimeoutError, *apierror.NetworkError, *apierror.HTTPError or
// *apierror.ServiceError.
func (c *Client) GetSingle(ctx context.Context, domain string) (*Response, error) {
	key := cache.Key(domain)
	if r, ok := c.lookup(ctx, key); ok {
		c.logger.Debug("valuation served from cache", "domain", domain)
		return r, nil
	}

	// The shared flight outlives any one caller; each caller stops waiting
	// when its own context ends.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(key, func() (any, error) {
		body, err := c.withRetry(flightCtx, opSingle, c.cfg.SingleTimeout, c.cfg.SingleRetryTimeout,
			func(ctx context.Context, timeout time.Duration) ([]byte, error) {
				return c.attempt(ctx, opSingle, pathValue, map[string]string{"domain": domain}, timeout)
			})
		if err != nil {
			return nil, err
		}

		var r Response
		if err := json.Unmarshal(body, &r); err != nil {
			metrics.ValuationRequestsTotal.WithLabelValues(opSingle, metrics.OutcomeInvalid).Inc()
			return nil, fmt.Errorf("valuation: decode response: %w", err)
		}
		if r.Error != "" {
			metrics.ValuationRequestsTotal.WithLabelValues(opSingle, metrics.OutcomeService).Inc()
			return nil, &apierror.ServiceError{Message: r.Error}
		}

		c.store(flightCtx, domain, &r)
		return &r, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("valuation: %s: %w", opSingle, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("valuation shared an in-flight request", "domain", domain)
		}
		return res.Val.(*Response), nil
	}
}

// GetBulk values several domains. Fresh cached responses are used as-is
// and only the remaining domains are sent, in one request. The result
// lists cached responses first, then freshly fetched ones, so it does not
// necessarily follow the input order.
func (c *Client) GetBulk(ctx context.Context, domains []string) (*BulkResponse, error) {
	cached := make([]Response, 0, len(domains))
	var misses []string
	for _, d := range domains {
		if r, ok := c.lookup(ctx, cache.Key(d)); ok {
			cached = append(cached, *r)
			continue
		}
		misses = append(misses, d)
	}

	if len(misses) == 0 {
		c.logger.Debug("bulk valuation served from cache", "domains", len(domains))
		return &BulkResponse{Results: cached}, nil
	}

	body, err := c.withRetry(ctx, opBulk, c.cfg.BulkTimeout, c.cfg.BulkRetryTimeout,
		func(ctx context.Context, timeout time.Duration) ([]byte, error) {
			return c.attempt(ctx, opBulk, pathBulkValue, map[string][]string{"domains": misses}, timeout)
		})
	if err != nil {
		return nil, err
	}

	var fresh BulkResponse
	if err := json.Unmarshal(body, &fresh); err != nil {
		metrics.ValuationRequestsTotal.WithLabelValues(opBulk, metrics.OutcomeInvalid).Inc()
		return nil, fmt.Errorf("valuation: decode bulk response: %w", err)
	}
	if fresh.Error != "" {
		metrics.ValuationRequestsTotal.WithLabelValues(opBulk, metrics.OutcomeService).Inc()
		return nil, &apierror.ServiceError{Message: fresh.Error}
	}
	// Results are matched to requests by position. A short or long answer
	// cannot be matched, so nothing from it is cached.
	if len(fresh.Results) != len(misses) {
		c.logger.Warn("bulk result count differs from request, not caching",
			"requested", len(misses), "returned", len(fresh.Results))
	} else {
		for i := range fresh.Results {
			r := &fresh.Results[i]
			if r.Error != "" {
				continue
			}
			if r.Domain != "" && !strings.EqualFold(r.Domain, misses[i]) {
				c.logger.Warn("bulk result out of order, not caching",
					"requested", misses[i], "returned", r.Domain)
				continue
			}
			c.store(ctx, misses[i], r)
		}
	}

	c.logger.Info("bulk valuation complete",
		"requested", len(domains), "cached", len(cached), "fetched", len(fresh.Results))

	return &BulkResponse{Results: append(cached, fresh.Results...)}, nil
}

// WarmUp pings the service's warm-up endpoint and reports whether it
// answered with a 2xx status. It never returns an error.
func (c *Client) WarmUp(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.WarmupTimeout)
	defer cancel()

	req, err := httpclient.NewJSONRequest(ctx, http.MethodGet, c.cfg.BaseURL+pathWarmup, nil)
	if err != nil {
		metrics.RecordWarmup(false)
		return false
	}
	c.decorate(req)

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		c.logger.Debug("warm-up failed", "err", err)
		metrics.RecordWarmup(false)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	metrics.RecordWarmup(ok)
	c.logger.Debug("warm-up finished", "status", resp.StatusCode)
	return ok
}

// ClearCache drops every cached response.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

type attemptFunc func(ctx context.Context, timeout time.Duration) ([]byte, error)

// withRetry runs call with the first timeout. Only a timeout earns a
// retry, preceded by a warm-up; the last attempt's error is returned.
func (c *Client) withRetry(ctx context.Context, op string, first, retry time.Duration, call attemptFunc) ([]byte, error) {
	body, err := call(ctx, first)
	for i := 0; i < c.cfg.Retries && isTimeout(err) && ctx.Err() == nil; i++ {
		c.logger.Warn("valuation request timed out, warming up and retrying",
			"op", op, "attempt", i+2, "timeout", retry)
		metrics.RetriesTotal.WithLabelValues(op).Inc()
		c.WarmUp(ctx)
		body, err = call(ctx, retry)
	}
	return body, err
}

func isTimeout(err error) bool {
	var te *apierror.TimeoutError
	return errors.As(err, &te)
}

// attempt performs one POST with its own deadline and maps the failure
// onto the apierror taxonomy.
func (c *Client) attempt(ctx context.Context, op, path string, payload any, timeout time.Duration) ([]byte, error) {
	if err := c.cfg.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("valuation: %s: %w", op, err)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := httpclient.NewJSONRequest(attemptCtx, http.MethodPost, c.cfg.BaseURL+path, payload)
	if err != nil {
		return nil, fmt.Errorf("valuation: %s: %w", op, err)
	}
	c.decorate(req)

	start := time.Now()
	resp, err := c.http.Do(attemptCtx, req)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, op, timeout, start, err)
	}
	defer resp.Body.Close()

	body, err := httpclient.ReadBody(resp, 0)
	if err != nil {
		return nil, c.transportError(ctx, attemptCtx, op, timeout, start, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordAttempt(op, metrics.OutcomeHTTP, time.Since(start))
		c.logger.Warn("valuation request rejected", "op", op, "status", resp.StatusCode)
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &apierror.HTTPError{StatusCode: resp.StatusCode, Body: snippet}
	}

	metrics.RecordAttempt(op, metrics.OutcomeSuccess, time.Since(start))
	return body, nil
}

func (c *Client) transportError(parent, attemptCtx context.Context, op string, timeout time.Duration, start time.Time, err error) error {
	elapsed := time.Since(start)
	if parent.Err() != nil {
		// The caller gave up; not ours to retry.
		metrics.RecordAttempt(op, metrics.OutcomeTimeout, elapsed)
		return fmt.Errorf("valuation: %s: %w", op, parent.Err())
	}

	var netErr net.Error
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		metrics.RecordAttempt(op, metrics.OutcomeTimeout, elapsed)
		c.logger.Warn("valuation request timed out", "op", op, "timeout", timeout)
		return &apierror.TimeoutError{Op: op, Timeout: timeout, Err: err}
	}

	metrics.RecordAttempt(op, metrics.OutcomeNetwork, elapsed)
	c.logger.Error("valuation request failed", "op", op, "err", err)
	return &apierror.NetworkError{Op: op, Err: err}
}

func (c *Client) decorate(req *http.Request) {
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
}

// lookup returns a fresh cached response for key, if any.
func (c *Client) lookup(ctx context.Context, key string) (*Response, bool) {
	e, err := c.cache.Get(ctx, key)
	switch {
	case errors.Is(err, cache.ErrMiss):
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	case err != nil:
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("cache lookup failed", "key", key, "err", err)
		return nil, false
	case !e.Fresh(c.now(), c.cfg.CacheTTL):
		metrics.CacheLookupsTotal.WithLabelValues("stale").Inc()
		return nil, false
	}

	var r Response
	if err := json.Unmarshal(e.Data, &r); err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		c.logger.Warn("cached entry unreadable", "key", key, "err", err)
		return nil, false
	}
	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return &r, true
}

// store writes r through to the cache. A failed write is logged, not
// surfaced, since the caller already has its answer.
func (c *Client) store(ctx context.Context, domain string, r *Response) {
	data := r.Raw()
	if len(data) == 0 {
		var err error
		if data, err = json.Marshal(r); err != nil {
			c.logger.Warn("cannot encode response for cache", "domain", domain, "err", err)
			return
		}
	}
	entry := &cache.Entry{Domain: domain, Data: data, Timestamp: c.now()}
	if err := c.cache.Set(ctx, cache.Key(domain), entry); err != nil {
		c.logger.Warn("cache write failed", "domain", domain, "err", err)
	}
}
