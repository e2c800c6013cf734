// Package cache holds valuation responses keyed by domain so repeated
// lookups within the freshness window skip the network.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is how long an entry is treated as fresh.
const DefaultTTL = 5 * time.Minute

// ErrMiss is returned by Get when no entry exists for a key.
var ErrMiss = errors.New("cache: miss")

// Entry is a cached valuation payload. Data is stored verbatim.
type Entry struct {
	Domain    string          `json:"domain"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Fresh reports whether the entry is younger than ttl at now.
func (e *Entry) Fresh(now time.Time, ttl time.Duration) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.Timestamp) < ttl
}

// Key derives the cache key for a domain. Single and bulk lookups share it.
func Key(domain string) string {
	return "single_" + domain
}

// Cache stores entries by key. Implementations never judge freshness;
// stale entries are returned and it is up to the caller to ignore them.
type Cache interface {
	// Get returns ErrMiss when the key is absent.
	Get(ctx context.Context, key string) (*Entry, error)
	// Set overwrites any existing entry for key.
	Set(ctx context.Context, key string, entry *Entry) error
	// Clear removes every entry.
	Clear(ctx context.Context) error
}
