package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/FranksOps/domval/internal/apierror"
	"github.com/FranksOps/domval/internal/pipeline"
	"github.com/FranksOps/domval/internal/validate"
	"github.com/FranksOps/domval/internal/valuation"
	"github.com/FranksOps/domval/pkg/ratelimit"
)

// upstream fakes the external valuation service.
type upstream struct {
	values atomic.Int32
	bulks  atomic.Int32
	status atomic.Int32
}

func (u *upstream) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/value", func(w http.ResponseWriter, r *http.Request) {
		u.values.Add(1)
		if code := int(u.status.Load()); code != 0 {
			w.WriteHeader(code)
			return
		}
		var req struct{ Domain string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		fmt.Fprintf(w, `{"domain":%q,"valuation":{"estimatedValue":4200},"confidence":"high"}`, req.Domain)
	})
	mux.HandleFunc("/api/bulk-value", func(w http.ResponseWriter, r *http.Request) {
		u.bulks.Add(1)
		var req struct{ Domains []string }
		_ = json.NewDecoder(r.Body).Decode(&req)
		var parts []string
		for _, d := range req.Domains {
			parts = append(parts, fmt.Sprintf(`{"domain":%q,"valuation":{"estimatedValue":10}}`, d))
		}
		fmt.Fprintf(w, `{"results":[%s]}`, strings.Join(parts, ","))
	})
	mux.HandleFunc("/warmup", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func newTestServer(t *testing.T, admission *ratelimit.Limiter) (*httptest.Server, *upstream) {
	t.Helper()
	up := &upstream{}
	api := httptest.NewServer(up.handler())
	t.Cleanup(api.Close)

	client, err := valuation.New(valuation.Config{BaseURL: api.URL, SingleTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("valuation.New failed: %v", err)
	}
	srv := New(Config{
		Pipeline:  &pipeline.Pipeline{Valuer: client},
		Admission: admission,
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, up
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestValue_ProxiesAndCaches(t *testing.T) {
	ts, up := newTestServer(t, nil)

	for i := 0; i < 2; i++ {
		resp := post(t, ts.URL+"/api/value", `{"domain":"Example.com"}`)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("expected 200, got %d", resp.StatusCode)
		}
		if resp.Header.Get("X-Request-ID") == "" {
			t.Error("expected a request ID header")
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `"domain":"example.com"`) {
			t.Errorf("unexpected body %s", body)
		}
	}

	if got := up.values.Load(); got != 1 {
		t.Errorf("expected one upstream call thanks to the cache, got %d", got)
	}
}

func TestValue_InvalidDomain(t *testing.T) {
	ts, up := newTestServer(t, nil)

	resp := post(t, ts.URL+"/api/value", `{"domain":"<script>bad!"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var res validate.Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatalf("expected a validation result: %v", err)
	}
	if res.Valid || res.TotalInvalid != 1 {
		t.Errorf("unexpected validation result %+v", res)
	}
	if up.values.Load() != 0 {
		t.Error("invalid domain must not reach the upstream")
	}
}

func TestValue_UpstreamFailureIsClassified(t *testing.T) {
	ts, up := newTestServer(t, nil)
	up.status.Store(http.StatusTooManyRequests)

	resp := post(t, ts.URL+"/api/value", `{"domain":"example.com"}`)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
	var c apierror.Classification
	if err := json.NewDecoder(resp.Body).Decode(&c); err != nil {
		t.Fatalf("expected classification JSON: %v", err)
	}
	if c.Type != apierror.TypeRateLimit || c.Message == "" {
		t.Errorf("unexpected classification %+v", c)
	}

	up.status.Store(http.StatusServiceUnavailable)
	resp = post(t, ts.URL+"/api/value", `{"domain":"other.com"}`)
	if resp.StatusCode != http.StatusBadGateway {
		t.Errorf("expected 502 for upstream 503, got %d", resp.StatusCode)
	}
}

func TestValue_BadJSON(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := post(t, ts.URL+"/api/value", `{"domain":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBulkValue(t *testing.T) {
	ts, up := newTestServer(t, nil)

	resp := post(t, ts.URL+"/api/bulk-value", `{"domains":["example.com","google.com","notadomain!!"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out struct {
		Results    []json.RawMessage `json:"results"`
		Validation validate.Result   `json:"validation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("bad body: %v", err)
	}
	if len(out.Results) != 2 || out.Validation.TotalInvalid != 1 {
		t.Errorf("unexpected response %+v", out)
	}

	// Everything is cached now.
	resp = post(t, ts.URL+"/api/bulk-value", `{"domains":["google.com","example.com"]}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := up.bulks.Load(); got != 1 {
		t.Errorf("expected one upstream bulk call, got %d", got)
	}
}

func TestBulkValue_Empty(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp := post(t, ts.URL+"/api/bulk-value", `{"domains":[]}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
}

func TestWarmupAndHealth(t *testing.T) {
	ts, _ := newTestServer(t, nil)

	for _, path := range []string{"/warmup", "/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestWrongMethod(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	resp, err := http.Get(ts.URL + "/api/value")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

func TestAdmission(t *testing.T) {
	// One token, refilled far slower than the test runs.
	ts, _ := newTestServer(t, ratelimit.NewBurstLimiter(0.001, 1, 0))

	first := post(t, ts.URL+"/api/value", `{"domain":"example.com"}`)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected first request admitted, got %d", first.StatusCode)
	}
	second := post(t, ts.URL+"/api/value", `{"domain":"example.com"}`)
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", second.StatusCode)
	}

	// Health checks bypass admission.
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected healthz to bypass admission, got %d", resp.StatusCode)
	}
}

func TestRequestIDIsPropagated(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("expected request ID to be echoed, got %q", got)
	}
}
