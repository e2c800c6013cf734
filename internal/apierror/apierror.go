// Package apierror defines the failure types returned by the valuation
// client and maps any error onto a small, user-facing taxonomy.
package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// TimeoutError is returned when an attempt's deadline fires before the
// valuation service answers.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: request timed out after %v", e.Op, e.Timeout)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// NetworkError is a transport-level failure where no HTTP response was
// received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// HTTPError is returned when the service answers with a non-2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error! status: %d", e.StatusCode)
}

// ServiceError carries an "error" field the service returned inside an
// otherwise successful response.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return "valuation service error: " + e.Message
}

// Type is a coarse error category consumed by presentation layers.
type Type string

const (
	TypeTimeout    Type = "timeout"
	TypeNetwork    Type = "network"
	TypeRateLimit  Type = "rate_limit"
	TypeServer     Type = "server"
	TypeClient     Type = "client"
	TypeConnection Type = "connection"
	TypeUnknown    Type = "unknown"
)

var messages = map[Type]string{
	TypeTimeout:    "The valuation request timed out. The service may be warming up, please try again.",
	TypeNetwork:    "Network error. Please check your internet connection and try again.",
	TypeRateLimit:  "Too many requests. Please wait a moment before trying again.",
	TypeServer:     "The valuation service is temporarily unavailable. Please try again later.",
	TypeClient:     "The request was rejected. Please check the domain names and try again.",
	TypeConnection: "Unable to connect to the valuation service. Please try again later.",
	TypeUnknown:    "An unexpected error occurred. Please try again.",
}

// Classification is the user-facing form of an error.
type Classification struct {
	Message string `json:"message"`
	Type    Type   `json:"type"`
}

// HTTPStatus is the status a proxy should answer with for this category.
func (c Classification) HTTPStatus() int {
	switch c.Type {
	case TypeTimeout:
		return http.StatusGatewayTimeout
	case TypeRateLimit:
		return http.StatusTooManyRequests
	case TypeClient:
		return http.StatusBadRequest
	case TypeServer, TypeNetwork, TypeConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Of returns the fixed Classification for t.
func Of(t Type) Classification {
	msg, ok := messages[t]
	if !ok {
		t, msg = TypeUnknown, messages[TypeUnknown]
	}
	return Classification{Type: t, Message: msg}
}

var statusMarker = regexp.MustCompile(`status:?\s*(\d{3})`)

// connectionMarkers are substrings of errors raised when the service could
// not be reached at all.
var connectionMarkers = []string{
	"failed to fetch",
	"networkerror",
	"connection refused",
	"no such host",
	"connection reset",
}

// Classify maps err onto a Classification. It never panics and always
// returns a value; a nil error classifies as unknown.
func Classify(err error) Classification {
	return Of(classifyType(err))
}

func classifyType(err error) Type {
	if err == nil {
		return TypeUnknown
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return TypeTimeout
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return TypeNetwork
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return statusType(httpErr.StatusCode)
	}

	msg := err.Error()
	if m := statusMarker.FindStringSubmatch(msg); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			return statusType(code)
		}
	}

	lower := strings.ToLower(msg)
	for _, marker := range connectionMarkers {
		if strings.Contains(lower, marker) {
			return TypeConnection
		}
	}

	return TypeUnknown
}

func statusType(code int) Type {
	switch {
	case code == http.StatusTooManyRequests:
		return TypeRateLimit
	case code >= 500:
		return TypeServer
	case code >= 400:
		return TypeClient
	default:
		return TypeServer
	}
}
