package jsonbackend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/FranksOps/domval/internal/storage"
)

// ensure jsonBackend implements storage.Backend
var _ storage.Backend = (*jsonBackend)(nil)

// jsonBackend keeps every value in one JSON object on disk, rewritten
// whole on each change.
type jsonBackend struct {
	mu     sync.Mutex
	path   string
	values map[string]string
}

// New creates a JSON-file-backed storage.Backend, loading existing values
// from filePath if it exists.
func New(filePath string) (storage.Backend, error) {
	b := &jsonBackend{path: filePath, values: make(map[string]string)}

	data, err := os.ReadFile(filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return b, nil
	case err != nil:
		return nil, fmt.Errorf("jsonbackend: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &b.values); err != nil {
			return nil, fmt.Errorf("jsonbackend: %s: %w", filePath, err)
		}
	}
	return b, nil
}

func (b *jsonBackend) Get(ctx context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	return v, nil
}

func (b *jsonBackend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = value
	return b.flush()
}

func (b *jsonBackend) Delete(ctx context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.values, k)
	}
	return b.flush()
}

func (b *jsonBackend) Close() error { return nil }

// flush writes to a temp file and renames it over the target. Must be
// called with lock held.
func (b *jsonBackend) flush() error {
	data, err := json.MarshalIndent(b.values, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.path), ".domval-*.json")
	if err != nil {
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonbackend: %w", err)
	}
	if err := os.Rename(tmp.Name(), b.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("jsonbackend: %w", err)
	}
	return nil
}
