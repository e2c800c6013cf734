package storage

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryBackend(t *testing.T) {
	b := NewMemory()
	defer b.Close()
	ctx := context.Background()

	if _, err := b.Get(ctx, "searchCount"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := b.Set(ctx, "searchCount", "3"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := b.Set(ctx, "searchCount", "4"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := b.Get(ctx, "searchCount")
	if err != nil || got != "4" {
		t.Fatalf("expected overwritten value 4, got %q (%v)", got, err)
	}

	if err := b.Delete(ctx, "searchCount", "never-set"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := b.Get(ctx, "searchCount"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}
