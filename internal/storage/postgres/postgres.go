package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/FranksOps/domval/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := b.pool.QueryRow(ctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("postgres: %w", err)
	}
	return value, nil
}

func (b *postgresBackend) Set(ctx context.Context, key, value string) error {
	query := `
	INSERT INTO kv_store (key, value, updated_at) VALUES ($1, $2, now())
	ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := b.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (b *postgresBackend) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := b.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	return nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
