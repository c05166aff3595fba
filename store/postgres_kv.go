package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ClientStorageSchema creates the table behind durable per-user client storage.
const ClientStorageSchema = `
CREATE TABLE IF NOT EXISTS client_storage (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresKV is durable client storage: experiment assignments, feature flag
// decisions and funnel progress survive across sessions and devices.
type PostgresKV struct {
	db *sql.DB
}

func NewPostgresKV(db *sql.DB) *PostgresKV {
	return &PostgresKV{db: db}
}

// Migrate creates the backing table if needed.
func (s *PostgresKV) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, ClientStorageSchema); err != nil {
		return fmt.Errorf("failed to create client_storage table: %w", err)
	}
	return nil
}

func (s *PostgresKV) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM client_storage WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read client storage key %q: %w", key, err)
	}
	return value, nil
}

func (s *PostgresKV) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO client_storage (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, value)
	if err != nil {
		return fmt.Errorf("failed to write client storage key %q: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM client_storage WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete client storage key %q: %w", key, err)
	}
	return nil
}
