package tracking

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
)

var (
	// ErrNotFound is returned for an unknown tracking id.
	ErrNotFound = errors.New("tracked email not found")

	// ErrExists is returned by Create when the tracking id is already taken.
	ErrExists = errors.New("tracked email already exists")
)

// Store persists tracked emails. Updates to one tracking id must be
// linearizable; different ids must not contend on a shared lock.
type Store interface {
	// Create stores a new tracked email.
	Create(ctx context.Context, e *domain.TrackedEmail) error

	// Get returns a snapshot of the tracked email or ErrNotFound.
	Get(ctx context.Context, trackingID string) (*domain.TrackedEmail, error)

	// MarkOpened sets opened/openedAt if the email has not been opened yet.
	// changed is false when it was already open.
	MarkOpened(ctx context.Context, trackingID string, at time.Time) (changed bool, err error)

	// AppendClick records one click and returns the updated email.
	AppendClick(ctx context.Context, trackingID string, link domain.ClickedLink) (*domain.TrackedEmail, error)

	// ListByUser returns a user's tracked emails, newest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.TrackedEmail, error)

	// ListByIDs returns the tracked emails among ids that exist, in no
	// particular order.
	ListByIDs(ctx context.Context, ids []string) ([]*domain.TrackedEmail, error)
}
