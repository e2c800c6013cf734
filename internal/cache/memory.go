package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// ensure Memory implements Cache
var _ Cache = (*Memory)(nil)

// MemoryConfig tunes the in-process cache. The zero value keeps entries for
// the life of the process, matching a per-session cache.
type MemoryConfig struct {
	// Expiration evicts entries this long after they are written. Zero
	// disables eviction.
	Expiration time.Duration
	// CleanupInterval is how often expired entries are swept. Zero
	// disables the sweeper.
	CleanupInterval time.Duration
}

// Memory is an in-process Cache backed by go-cache. It is safe for
// concurrent use.
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates an in-process cache.
func NewMemory(cfg MemoryConfig) *Memory {
	exp := cfg.Expiration
	if exp <= 0 {
		exp = gocache.NoExpiration
	}
	return &Memory{items: gocache.New(exp, cfg.CleanupInterval)}
}

func (m *Memory) Get(ctx context.Context, key string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.items.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	e := *v.(*Entry)
	return &e, nil
}

func (m *Memory) Set(ctx context.Context, key string, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := *entry
	m.items.Set(key, &e, gocache.DefaultExpiration)
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.items.Flush()
	return nil
}

// Len returns the number of stored entries, stale ones included.
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
