package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/FranksOps/domval/internal/storage"
)

func TestPostgresBackend(t *testing.T) {
	// Only run this test if DOMVAL_TEST_PG_DSN is set
	dsn := os.Getenv("DOMVAL_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("Skipping Postgres backend test: DOMVAL_TEST_PG_DSN not set")
	}

	ctx := context.Background()
	b, err := New(ctx, dsn)
	if err != nil {
		t.Fatalf("Failed to create Postgres backend: %v", err)
	}
	defer b.Close()

	const key = "domval_test_searchCount"
	_ = b.Delete(ctx, key)

	if _, err := b.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}

	if err := b.Set(ctx, key, "5"); err != nil {
		t.Fatalf("Failed to set value: %v", err)
	}
	if err := b.Set(ctx, key, "6"); err != nil {
		t.Fatalf("Failed to overwrite value: %v", err)
	}

	got, err := b.Get(ctx, key)
	if err != nil || got != "6" {
		t.Fatalf("Expected 6, got %q (%v)", got, err)
	}

	if err := b.Delete(ctx, key); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := b.Get(ctx, key); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
}
