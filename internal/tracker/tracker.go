// Package tracker counts searches, applies the client-side rate limit and
// decides when to show the donation prompt.
package tracker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/FranksOps/domval/internal/metrics"
	"github.com/FranksOps/domval/internal/storage"
)

// Durable storage keys.
const (
	KeySearchCount = "searchCount"
	KeySearchData  = "searchData"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultLimit       = 10
	DefaultPromptAfter = 3
)

// PromptContext selects which donation prompt is being considered.
type PromptContext string

const (
	PromptSearch PromptContext = "search"
	PromptBulk   PromptContext = "bulk"
)

// sessionKey is the session-scoped flag name for a prompt context.
func (c PromptContext) sessionKey() string {
	return "donationShown_" + string(c)
}

// SearchRecord is the metadata kept about the most recent search. Hash is
// xxhash64 of the lower-cased domain; it buckets searches for rate limiting
// and is not a privacy or security measure. Recent holds the unix-millisecond
// timestamps of searches inside the last window, oldest first.
type SearchRecord struct {
	Hash      string  `json:"hash"`
	Timestamp int64   `json:"timestamp"`
	Count     int     `json:"count"`
	Recent    []int64 `json:"recent,omitempty"`
}

// Hash returns the bucketing hash for a domain.
func Hash(domain string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(strings.ToLower(strings.TrimSpace(domain))))
}

// Config holds tracker settings. Zero values take the defaults above.
type Config struct {
	Backend     storage.Backend
	Window      time.Duration
	Limit       int
	PromptAfter int
	Logger      *slog.Logger
	Now         func() time.Time
}

// Tracker is safe for concurrent use. Session flags live only as long as
// the Tracker.
type Tracker struct {
	backend     storage.Backend
	window      time.Duration
	limit       int
	promptAfter int
	logger      *slog.Logger
	now         func() time.Time

	mu      sync.Mutex
	session map[string]bool
}

// New creates a Tracker. A nil Backend keeps state in memory.
func New(cfg Config) *Tracker {
	if cfg.Backend == nil {
		cfg.Backend = storage.NewMemory()
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.PromptAfter <= 0 {
		cfg.PromptAfter = DefaultPromptAfter
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Tracker{
		backend:     cfg.Backend,
		window:      cfg.Window,
		limit:       cfg.Limit,
		promptAfter: cfg.PromptAfter,
		logger:      cfg.Logger,
		now:         cfg.Now,
		session:     make(map[string]bool),
	}
}

// RecordSearch increments the persisted search count and overwrites the
// search record with this search.
func (t *Tracker) RecordSearch(ctx context.Context, domain string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	count, err := t.loadCount(ctx)
	if err != nil {
		return err
	}
	count++

	prev, err := t.loadRecord(ctx)
	if err != nil {
		return err
	}

	now := t.now()
	rec := SearchRecord{
		Hash:      Hash(domain),
		Timestamp: now.UnixMilli(),
		Count:     count,
		Recent:    t.trim(append(prevRecent(prev), now.UnixMilli()), now),
	}

	if err := t.backend.Set(ctx, KeySearchCount, strconv.Itoa(count)); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := t.storeRecord(ctx, rec); err != nil {
		return err
	}

	limited := len(rec.Recent) > t.limit
	metrics.SearchesTotal.WithLabelValues(strconv.FormatBool(limited)).Inc()
	t.logger.Debug("search recorded", "hash", rec.Hash, "count", count, "in_window", len(rec.Recent))
	return nil
}

// IsRateLimited reports whether more than Limit searches were recorded in
// the last Window. Once the newest search is older than Window it is false
// regardless of count.
func (t *Tracker) IsRateLimited(ctx context.Context) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadRecord(ctx)
	if err != nil || rec == nil {
		return false, err
	}
	now := t.now()
	if now.Sub(time.UnixMilli(rec.Timestamp)) >= t.window {
		return false, nil
	}
	return len(t.trim(rec.Recent, now)) > t.limit, nil
}

// SearchCount returns the persisted number of recorded searches.
func (t *Tracker) SearchCount(ctx context.Context) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loadCount(ctx)
}

// ShouldShowDonationPrompt reports whether the prompt for c should be
// shown. Search prompts wait for PromptAfter searches; bulk prompts show
// once per session.
func (t *Tracker) ShouldShowDonationPrompt(ctx context.Context, c PromptContext) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.session[c.sessionKey()] {
		return false, nil
	}
	switch c {
	case PromptBulk:
		return true, nil
	case PromptSearch:
		count, err := t.loadCount(ctx)
		if err != nil {
			return false, err
		}
		return count >= t.promptAfter, nil
	default:
		return false, nil
	}
}

// MarkDonationPromptShown suppresses the prompt for c for the rest of the
// session.
func (t *Tracker) MarkDonationPromptShown(c PromptContext) {
	t.mu.Lock()
	t.session[c.sessionKey()] = true
	t.mu.Unlock()
}

// ResetSearchCount clears the persisted count and search record.
func (t *Tracker) ResetSearchCount(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.backend.Delete(ctx, KeySearchCount, KeySearchData); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return nil
}

// ClearAllData clears persisted state and the session flags.
func (t *Tracker) ClearAllData(ctx context.Context) error {
	if err := t.ResetSearchCount(ctx); err != nil {
		return err
	}
	t.mu.Lock()
	clear(t.session)
	t.mu.Unlock()
	return nil
}

// trim keeps the timestamps inside the window ending at now, capped at
// limit+1 entries since that is enough to decide the limit.
func (t *Tracker) trim(stamps []int64, now time.Time) []int64 {
	cutoff := now.Add(-t.window).UnixMilli()
	kept := make([]int64, 0, len(stamps))
	for _, s := range stamps {
		if s > cutoff {
			kept = append(kept, s)
		}
	}
	if keep := t.limit + 1; len(kept) > keep {
		kept = kept[len(kept)-keep:]
	}
	return kept
}

func prevRecent(rec *SearchRecord) []int64 {
	if rec == nil {
		return nil
	}
	return rec.Recent
}

// loadCount treats a missing or unparsable counter as zero.
func (t *Tracker) loadCount(ctx context.Context) (int, error) {
	raw, err := t.backend.Get(ctx, KeySearchCount)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("tracker: %w", err)
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		t.logger.Warn("ignoring corrupt search count", "value", raw)
		return 0, nil
	}
	return n, nil
}

// loadRecord returns nil when no usable record is stored.
func (t *Tracker) loadRecord(ctx context.Context) (*SearchRecord, error) {
	raw, err := t.backend.Get(ctx, KeySearchData)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		t.logger.Warn("ignoring corrupt search record", "err", err)
		return nil, nil
	}
	var rec SearchRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		t.logger.Warn("ignoring corrupt search record", "err", err)
		return nil, nil
	}
	return &rec, nil
}

func (t *Tracker) storeRecord(ctx context.Context, rec SearchRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	if err := t.backend.Set(ctx, KeySearchData, base64.StdEncoding.EncodeToString(data)); err != nil {
		return fmt.Errorf("tracker: %w", err)
	}
	return nil
}
