package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/irfndi/celebrum-gem-go/internal/models"
)

// DatabasePool defines the interface for database pool operations.
// Both *pgxpool.Pool and pgxmock pools satisfy it.
type DatabasePool interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

const createSnapshotsTable = `
	CREATE TABLE IF NOT EXISTS market_data_snapshots (
		key        TEXT PRIMARY KEY,
		payload    JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`

// SnapshotRepository persists market data cache entries in PostgreSQL. It
// satisfies the cache package's Store interface.
type SnapshotRepository struct {
	pool DatabasePool
}

func NewSnapshotRepository(pool DatabasePool) *SnapshotRepository {
	return &SnapshotRepository{pool: pool}
}

// EnsureSchema creates the snapshots table if it does not exist.
func (r *SnapshotRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, createSnapshotsTable); err != nil {
		return fmt.Errorf("failed to create market_data_snapshots table: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	err := r.pool.QueryRow(ctx,
		`SELECT payload FROM market_data_snapshots WHERE key = $1`,
		key,
	).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get snapshot %s: %w", key, err)
	}
	return payload, true, nil
}

func (r *SnapshotRepository) Set(ctx context.Context, key string, value []byte) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO market_data_snapshots (key, payload, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", key, err)
	}
	return nil
}

func (r *SnapshotRepository) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if _, err := r.pool.Exec(ctx, `DELETE FROM market_data_snapshots WHERE key = ANY($1)`, keys); err != nil {
		return fmt.Errorf("failed to delete snapshots: %w", err)
	}
	return nil
}

// List returns every stored snapshot ordered by key.
func (r *SnapshotRepository) List(ctx context.Context) ([]models.MarketDataSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT key, payload, updated_at FROM market_data_snapshots ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []models.MarketDataSnapshot
	for rows.Next() {
		var s models.MarketDataSnapshot
		if err := rows.Scan(&s.Key, &s.Payload, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}
