// Package storage persists small string values across runs. The usage
// tracker keeps its search counter and last search record here.
package storage

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned by Get when a key has no value.
var ErrNotFound = errors.New("storage: key not found")

// Backend is a durable string key/value store.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	// Delete removes keys; missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error
	Close() error
}

// ensure memoryBackend implements Backend
var _ Backend = (*memoryBackend)(nil)

type memoryBackend struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory returns a Backend that lives only as long as the process.
func NewMemory() Backend {
	return &memoryBackend{values: make(map[string]string)}
}

func (b *memoryBackend) Get(ctx context.Context, key string) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (b *memoryBackend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return nil
}

func (b *memoryBackend) Delete(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return nil
}

func (b *memoryBackend) Close() error { return nil }
