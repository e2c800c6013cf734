package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer(t *testing.T) {
	srv := Start(8888, nil)
	// Give it a tiny bit of time to start up
	time.Sleep(100 * time.Millisecond)

	defer srv.Stop(context.Background())

	RecordAttempt("value", OutcomeSuccess, 250*time.Millisecond)
	RecordWarmup(true)
	CacheLookupsTotal.WithLabelValues("hit").Inc()

	resp, err := http.Get("http://localhost:8888/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}

	output := string(body)

	if !strings.Contains(output, `domval_valuation_requests_total{op="value",outcome="success"}`) {
		t.Errorf("expected domval_valuation_requests_total metric")
	}
	if !strings.Contains(output, "domval_valuation_duration_seconds_bucket") {
		t.Errorf("expected domval_valuation_duration_seconds metric")
	}
	if !strings.Contains(output, `domval_warmups_total{outcome="success"}`) {
		t.Errorf("expected domval_warmups_total metric")
	}
	if !strings.Contains(output, `domval_cache_lookups_total{result="hit"}`) {
		t.Errorf("expected domval_cache_lookups_total metric")
	}
}

func TestStopNilServer(t *testing.T) {
	var s *Server
	if err := s.Stop(context.Background()); err != nil {
		t.Errorf("expected nil error stopping nil server, got %v", err)
	}
}
