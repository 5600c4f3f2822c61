package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
)

// PostgresStore keeps usage windows in the usage_windows table so that
// counts survive restarts and are shared between server instances. Row-level
// version checks give per-key compare-and-swap without table locks.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore on an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const loadWindowSQL = `
SELECT window_start, window_ms, count, version
FROM usage_windows
WHERE action_type = $1 AND identifier = $2`

// Load returns the stored window for key, or nil.
func (s *PostgresStore) Load(ctx context.Context, key Key) (*domain.UsageWindow, error) {
	w := domain.UsageWindow{ActionType: key.Action, Identifier: key.Identifier}

	var windowMs int64
	err := s.db.QueryRowContext(ctx, loadWindowSQL, string(key.Action), key.Identifier).
		Scan(&w.WindowStart, &windowMs, &w.Count, &w.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load usage window %s: %w", key, err)
	}

	w.WindowStart = w.WindowStart.UTC()
	w.WindowDuration = time.Duration(windowMs) * time.Millisecond
	return &w, nil
}

const insertWindowSQL = `
INSERT INTO usage_windows (action_type, identifier, window_start, window_ms, count, version)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (action_type, identifier) DO NOTHING`

const swapWindowSQL = `
UPDATE usage_windows
SET window_start = $3, window_ms = $4, count = $5, version = $6
WHERE action_type = $1 AND identifier = $2 AND version = $7 AND window_start = $8`

// CompareAndSwap inserts next when prev is nil, otherwise updates the row
// only if its version and window start still equal prev's.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, prev *domain.UsageWindow, next domain.UsageWindow) (bool, error) {
	args := []any{
		string(next.ActionType),
		next.Identifier,
		next.WindowStart,
		next.WindowDuration.Milliseconds(),
		next.Count,
		next.Version,
	}

	query := insertWindowSQL
	if prev != nil {
		query = swapWindowSQL
		args = append(args, prev.Version, prev.WindowStart)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("swap usage window %s: %w", KeyOf(&next), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("swap usage window %s: %w", KeyOf(&next), err)
	}
	return n == 1, nil
}

const sweepWindowsSQL = `
DELETE FROM usage_windows
WHERE window_start + window_ms * interval '1 millisecond' <= $1`

// Sweep deletes expired rows.
func (s *PostgresStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, sweepWindowsSQL, now)
	if err != nil {
		return 0, fmt.Errorf("sweep usage windows: %w", err)
	}
	return res.RowsAffected()
}
