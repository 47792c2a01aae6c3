package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTable = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// PostgresStore keeps keys in a single table, scoped by device so several
// browsers can share one database.
type PostgresStore struct {
	pool    *pgxpool.Pool
	table   string
	device  string
	timeout time.Duration
}

// NewPostgresStore creates the table if it does not exist.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, table, device string, timeout time.Duration) (*PostgresStore, error) {
	if !validTable.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &PostgresStore{pool: pool, table: table, device: device, timeout: timeout}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			device     TEXT NOT NULL,
			key        TEXT NOT NULL,
			value      JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (device, key)
		)
	`, table)
	if _, err := pool.Exec(ctx, query); err != nil {
		return nil, fmt.Errorf("postgres: failed to create %s: %w", table, err)
	}
	return s, nil
}

func (s *PostgresStore) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT value::text FROM %s WHERE device = $1 AND key = $2`, s.table)

	var value string
	err := s.pool.QueryRow(ctx, query, s.device, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to get %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *PostgresStore) Set(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (device, key, value, updated_at)
		VALUES ($1, $2, $3::jsonb, now())
		ON CONFLICT (device, key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, s.table)

	if _, err := s.pool.Exec(ctx, query, s.device, key, string(value)); err != nil {
		return fmt.Errorf("postgres: failed to set %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	query := fmt.Sprintf(`DELETE FROM %s WHERE device = $1 AND key = $2`, s.table)

	tag, err := s.pool.Exec(ctx, query, s.device, key)
	if err != nil {
		return fmt.Errorf("postgres: failed to delete %s: %w", key, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
