package tracking

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// PostgresStore keeps tracked emails in the tracked_emails table. Opens and
// clicks are single-statement updates, so each row is its own unit of
// concurrency.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgresStore on an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const emailColumns = `tracking_id, user_id, lead_id, recipient, subject, created_at,
	opened, opened_at, click_count, clicked_links`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmail(row rowScanner) (*domain.TrackedEmail, error) {
	var (
		e        domain.TrackedEmail
		openedAt sql.NullTime
		links    pqtype.NullRawMessage
	)
	err := row.Scan(
		&e.TrackingID,
		&e.UserID,
		&e.LeadID,
		&e.Recipient,
		&e.Subject,
		&e.CreatedAt,
		&e.Opened,
		&openedAt,
		&e.ClickCount,
		&links,
	)
	if err != nil {
		return nil, err
	}

	e.CreatedAt = e.CreatedAt.UTC()
	if openedAt.Valid {
		t := openedAt.Time.UTC()
		e.OpenedAt = &t
	}
	if links.Valid && len(links.RawMessage) > 0 {
		if err := json.Unmarshal(links.RawMessage, &e.ClickedLinks); err != nil {
			return nil, fmt.Errorf("decode clicked_links: %w", err)
		}
	}
	return &e, nil
}

const insertEmailSQL = `
INSERT INTO tracked_emails (tracking_id, user_id, lead_id, recipient, subject, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (tracking_id) DO NOTHING`

func (s *PostgresStore) Create(ctx context.Context, e *domain.TrackedEmail) error {
	res, err := s.db.ExecContext(ctx, insertEmailSQL,
		e.TrackingID, e.UserID, e.LeadID, e.Recipient, e.Subject, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert tracked email %s: %w", e.TrackingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert tracked email %s: %w", e.TrackingID, err)
	}
	if n == 0 {
		return ErrExists
	}
	return nil
}

const getEmailSQL = `SELECT ` + emailColumns + ` FROM tracked_emails WHERE tracking_id = $1`

func (s *PostgresStore) Get(ctx context.Context, trackingID string) (*domain.TrackedEmail, error) {
	e, err := scanEmail(s.db.QueryRowContext(ctx, getEmailSQL, trackingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked email %s: %w", trackingID, err)
	}
	return e, nil
}

const markOpenedSQL = `
UPDATE tracked_emails
SET opened = true, opened_at = $2
WHERE tracking_id = $1 AND opened = false`

const emailExistsSQL = `SELECT EXISTS (SELECT 1 FROM tracked_emails WHERE tracking_id = $1)`

func (s *PostgresStore) MarkOpened(ctx context.Context, trackingID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, markOpenedSQL, trackingID, at)
	if err != nil {
		return false, fmt.Errorf("mark opened %s: %w", trackingID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark opened %s: %w", trackingID, err)
	}
	if n == 1 {
		return true, nil
	}

	// Nothing changed: either already opened or unknown.
	var exists bool
	if err := s.db.QueryRowContext(ctx, emailExistsSQL, trackingID).Scan(&exists); err != nil {
		return false, fmt.Errorf("mark opened %s: %w", trackingID, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

const appendClickSQL = `
UPDATE tracked_emails
SET click_count = click_count + 1,
    clicked_links = clicked_links || $2::jsonb
WHERE tracking_id = $1
RETURNING ` + emailColumns

func (s *PostgresStore) AppendClick(ctx context.Context, trackingID string, link domain.ClickedLink) (*domain.TrackedEmail, error) {
	raw, err := json.Marshal([]domain.ClickedLink{link})
	if err != nil {
		return nil, fmt.Errorf("encode click: %w", err)
	}

	e, err := scanEmail(s.db.QueryRowContext(ctx, appendClickSQL, trackingID,
		pqtype.NullRawMessage{RawMessage: raw, Valid: true}))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("append click %s: %w", trackingID, err)
	}
	return e, nil
}

const listByUserSQL = `SELECT ` + emailColumns + `
FROM tracked_emails
WHERE user_id = $1
ORDER BY created_at DESC`

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*domain.TrackedEmail, error) {
	return s.list(ctx, "list tracked emails", listByUserSQL, userID)
}

const listByIDsSQL = `SELECT ` + emailColumns + `
FROM tracked_emails
WHERE tracking_id = ANY($1::text[])`

func (s *PostgresStore) ListByIDs(ctx context.Context, ids []string) ([]*domain.TrackedEmail, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.list(ctx, "list tracked emails by id", listByIDsSQL, pq.Array(ids))
}

func (s *PostgresStore) list(ctx context.Context, what, query string, args ...any) ([]*domain.TrackedEmail, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var out []*domain.TrackedEmail
	for rows.Next() {
		e, err := scanEmail(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", what, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return out, nil
}
