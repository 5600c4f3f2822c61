// Package service contains the business logic layer.
//
// This file implements the email tracking service: registering outbound
// emails and instrumenting their bodies before they are sent.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"github.com/DukeRupert/leadmeter/internal/tracking"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailTrackingService defines the interface for tracked email operations.
type EmailTrackingService interface {
	// Prepare registers a tracked email and returns its instrumented body.
	// The record is persisted before the body is rewritten, so callbacks
	// from the sent email always find it.
	// Returns domain.EINVALID for validation errors.
	Prepare(ctx context.Context, params PrepareParams) (*PreparedEmail, error)

	// Get returns a tracked email owned by userID.
	// Returns domain.ENOTFOUND if it does not exist or belongs to another user.
	Get(ctx context.Context, userID, trackingID string) (*domain.TrackedEmail, error)

	// List returns the user's tracked emails, newest first.
	List(ctx context.Context, userID string) ([]*domain.TrackedEmail, error)

	// Stats computes open and click rates over the user's tracked emails.
	Stats(ctx context.Context, userID string) (domain.EngagementStats, error)

	// Activity returns the archived engagement events of day that belong to
	// the user's emails.
	// Returns domain.EUNAVAILABLE when archiving is disabled.
	Activity(ctx context.Context, userID string, day time.Time) ([]domain.EngagementEvent, error)
}

// EventArchive reads archived engagement events. archive.Reader implements it.
type EventArchive interface {
	ReadDay(ctx context.Context, day time.Time) ([]domain.EngagementEvent, error)
}

// PrepareParams contains the data needed to register an outbound email.
type PrepareParams struct {
	UserID    string
	LeadID    string
	Recipient string
	Subject   string
	Body      string
}

// PreparedEmail is the result of Prepare: the body to hand to the mailer.
type PreparedEmail struct {
	TrackingID string               `json:"tracking_id"`
	Body       string               `json:"body"`
	Email      *domain.TrackedEmail `json:"email"`
}

// =============================================================================
// Implementation
// =============================================================================

type emailTrackingService struct {
	store        tracking.Store
	instrumentor *tracking.Instrumentor
	clock        identity.Clock
	archive      EventArchive
	newID        func() string
	logger       *slog.Logger
}

// NewEmailTrackingService creates a new EmailTrackingService. Tracking ids
// are random UUIDs. archive may be nil when archiving is disabled.
func NewEmailTrackingService(
	store tracking.Store,
	instrumentor *tracking.Instrumentor,
	clock identity.Clock,
	archive EventArchive,
	logger *slog.Logger,
) EmailTrackingService {
	return &emailTrackingService{
		store:        store,
		instrumentor: instrumentor,
		clock:        clock,
		archive:      archive,
		newID:        uuid.NewString,
		logger:       logger,
	}
}

// Prepare registers and instruments an outbound email.
func (s *emailTrackingService) Prepare(ctx context.Context, params PrepareParams) (*PreparedEmail, error) {
	const op = "email_tracking.prepare"

	if err := validatePrepareParams(params); err != nil {
		return nil, err
	}

	email := &domain.TrackedEmail{
		TrackingID: s.newID(),
		UserID:     params.UserID,
		LeadID:     strings.TrimSpace(params.LeadID),
		Recipient:  strings.TrimSpace(params.Recipient),
		Subject:    strings.TrimSpace(params.Subject),
		CreatedAt:  s.clock.Now(),
	}

	if err := s.store.Create(ctx, email); err != nil {
		if errors.Is(err, tracking.ErrExists) {
			return nil, domain.Errorf(domain.ECONFLICT, op, "tracking id %s already in use", email.TrackingID)
		}
		return nil, domain.Unavailable(err, op, "failed to register tracked email")
	}

	body := s.instrumentor.Instrument(params.Body, email.TrackingID)
	metrics.EmailsInstrumented.Inc()

	s.logger.Info("tracked email prepared",
		"tracking_id", email.TrackingID,
		"user_id", email.UserID,
		"lead_id", email.LeadID,
	)

	return &PreparedEmail{
		TrackingID: email.TrackingID,
		Body:       body,
		Email:      email,
	}, nil
}

func validatePrepareParams(params PrepareParams) error {
	const op = "email_tracking.validate"

	if params.UserID == "" {
		return domain.Invalid(op, "user id is required")
	}
	if strings.TrimSpace(params.Body) == "" {
		return domain.Invalid(op, "body is required")
	}
	if len(params.Subject) > 998 {
		return domain.Invalid(op, "subject must be 998 characters or less")
	}
	return nil
}

// Get returns a tracked email owned by userID.
func (s *emailTrackingService) Get(ctx context.Context, userID, trackingID string) (*domain.TrackedEmail, error) {
	const op = "email_tracking.get"

	email, err := s.store.Get(ctx, trackingID)
	if errors.Is(err, tracking.ErrNotFound) {
		return nil, domain.NotFound(op, "tracked email", trackingID)
	}
	if err != nil {
		return nil, domain.Unavailable(err, op, "tracking store unavailable")
	}

	// Other users' emails look the same as missing ones
	if email.UserID != userID {
		return nil, domain.NotFound(op, "tracked email", trackingID)
	}
	return email, nil
}

// List returns the user's tracked emails.
func (s *emailTrackingService) List(ctx context.Context, userID string) ([]*domain.TrackedEmail, error) {
	const op = "email_tracking.list"

	emails, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.Unavailable(err, op, "tracking store unavailable")
	}
	if emails == nil {
		emails = []*domain.TrackedEmail{}
	}
	return emails, nil
}

// Stats computes engagement rates on read.
func (s *emailTrackingService) Stats(ctx context.Context, userID string) (domain.EngagementStats, error) {
	const op = "email_tracking.stats"

	emails, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		return domain.EngagementStats{}, domain.Unavailable(err, op, "tracking store unavailable")
	}
	return domain.CalculateEngagementStats(emails), nil
}

// Activity filters one archived day down to the user's emails.
func (s *emailTrackingService) Activity(ctx context.Context, userID string, day time.Time) ([]domain.EngagementEvent, error) {
	const op = "email_tracking.activity"

	if s.archive == nil {
		return nil, domain.Errorf(domain.EUNAVAILABLE, op, "engagement archive is not enabled")
	}

	events, err := s.archive.ReadDay(ctx, day)
	if err != nil {
		return nil, domain.Unavailable(err, op, "engagement archive unavailable")
	}

	out := []domain.EngagementEvent{}
	if len(events) == 0 {
		return out, nil
	}

	seen := make(map[string]bool)
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if !seen[ev.TrackingID] {
			seen[ev.TrackingID] = true
			ids = append(ids, ev.TrackingID)
		}
	}

	emails, err := s.store.ListByIDs(ctx, ids)
	if err != nil {
		return nil, domain.Unavailable(err, op, "tracking store unavailable")
	}

	owned := make(map[string]bool, len(emails))
	for _, e := range emails {
		if e.UserID == userID {
			owned[e.TrackingID] = true
		}
	}

	for _, ev := range events {
		if owned[ev.TrackingID] {
			out = append(out, ev)
		}
	}
	return out, nil
}
