package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Type
	}{
		{"timeout type", &TimeoutError{Op: "value", Timeout: time.Second, Err: context.DeadlineExceeded}, TypeTimeout},
		{"deadline", context.DeadlineExceeded, TypeTimeout},
		{"canceled", fmt.Errorf("wrapped: %w", context.Canceled), TypeTimeout},
		{"network type", &NetworkError{Op: "value", Err: errors.New("dial tcp: i/o failure")}, TypeNetwork},
		{"http 429", &HTTPError{StatusCode: http.StatusTooManyRequests}, TypeRateLimit},
		{"http 503", &HTTPError{StatusCode: http.StatusServiceUnavailable}, TypeServer},
		{"http 500", &HTTPError{StatusCode: http.StatusInternalServerError}, TypeServer},
		{"http 404", &HTTPError{StatusCode: http.StatusNotFound}, TypeClient},
		{"http 302", &HTTPError{StatusCode: http.StatusFound}, TypeServer},
		{"wrapped http", fmt.Errorf("bulk: %w", &HTTPError{StatusCode: 429}), TypeRateLimit},
		{"status marker", errors.New("HTTP error! status: 503"), TypeServer},
		{"status marker 429", errors.New("upstream said status: 429"), TypeRateLimit},
		{"failed to fetch", errors.New("TypeError: Failed to fetch"), TypeConnection},
		{"connection refused", errors.New("dial tcp 127.0.0.1:1: connect: connection refused"), TypeConnection},
		{"service error", &ServiceError{Message: "quota"}, TypeUnknown},
		{"anything else", errors.New("boom"), TypeUnknown},
		{"nil", nil, TypeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Type != tt.want {
				t.Errorf("Classify(%v).Type = %q, want %q", tt.err, got.Type, tt.want)
			}
			if got.Message == "" {
				t.Errorf("Classify(%v) returned an empty message", tt.err)
			}
			if got.Message != messages[tt.want] {
				t.Errorf("Classify(%v).Message = %q, want fixed message for %q", tt.err, got.Message, tt.want)
			}
		})
	}
}

func TestClassify_NetworkWrappingTimeoutIsTimeout(t *testing.T) {
	err := &TimeoutError{Op: "bulk", Timeout: time.Second, Err: &NetworkError{Op: "bulk", Err: errors.New("x")}}
	if got := Classify(err).Type; got != TypeTimeout {
		t.Errorf("expected timeout to take precedence, got %q", got)
	}
}

func TestClassification_HTTPStatus(t *testing.T) {
	tests := map[Type]int{
		TypeTimeout:    http.StatusGatewayTimeout,
		TypeRateLimit:  http.StatusTooManyRequests,
		TypeClient:     http.StatusBadRequest,
		TypeServer:     http.StatusBadGateway,
		TypeNetwork:    http.StatusBadGateway,
		TypeConnection: http.StatusBadGateway,
		TypeUnknown:    http.StatusInternalServerError,
	}
	for typ, want := range tests {
		if got := (Classification{Type: typ}).HTTPStatus(); got != want {
			t.Errorf("HTTPStatus(%q) = %d, want %d", typ, got, want)
		}
	}
}

func TestErrorStrings(t *testing.T) {
	if got := (&HTTPError{StatusCode: 502}).Error(); got != "HTTP error! status: 502" {
		t.Errorf("unexpected HTTPError string %q", got)
	}
	te := &TimeoutError{Op: "value", Timeout: 18 * time.Second, Err: context.DeadlineExceeded}
	if !errors.Is(te, context.DeadlineExceeded) {
		t.Errorf("TimeoutError should unwrap to its cause")
	}
}

func TestOf(t *testing.T) {
	c := Of(TypeRateLimit)
	if c.Type != TypeRateLimit || c.Message == "" {
		t.Errorf("unexpected classification %+v", c)
	}
	if got := Of(Type("bogus")); got.Type != TypeUnknown {
		t.Errorf("unknown types should fall back to unknown, got %q", got.Type)
	}
}
