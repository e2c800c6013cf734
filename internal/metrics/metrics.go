package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels used on request counters.
const (
	OutcomeSuccess = "success"
	OutcomeTimeout = "timeout"
	OutcomeNetwork = "network"
	OutcomeHTTP    = "http_error"
	OutcomeService = "service_error"
	OutcomeInvalid = "invalid_response"
)

var (
	ValuationRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domval_valuation_requests_total",
			Help: "Total number of network attempts against the valuation API",
		},
		[]string{"op", "outcome"},
	)

	ValuationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "domval_valuation_duration_seconds",
			Help:    "Duration of valuation API attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 18, 30},
		},
		[]string{"op"},
	)

	CacheLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domval_cache_lookups_total",
			Help: "Response cache lookups by result (hit, stale, miss, error)",
		},
		[]string{"result"},
	)

	WarmupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domval_warmups_total",
			Help: "Warm-up calls issued against the valuation API",
		},
		[]string{"outcome"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domval_retries_total",
			Help: "Retries issued after a timed out attempt",
		},
		[]string{"op"},
	)

	SearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "domval_searches_total",
			Help: "Searches recorded by the usage tracker",
		},
		[]string{"limited"},
	)
)

// RecordAttempt updates the request counter and latency histogram for a
// single network attempt.
func RecordAttempt(op, outcome string, d time.Duration) {
	ValuationRequestsTotal.WithLabelValues(op, outcome).Inc()
	ValuationDuration.WithLabelValues(op).Observe(d.Seconds())
}

// RecordWarmup counts a warm-up call.
func RecordWarmup(ok bool) {
	outcome := OutcomeSuccess
	if !ok {
		outcome = "failure"
	}
	WarmupsTotal.WithLabelValues(outcome).Inc()
}

// Handler exposes the default registry for mounting on another router.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "err", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s == nil || s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
