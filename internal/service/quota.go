// Package service contains the business logic layer.
//
// This file implements plan enforcement: looking up the caller's plan limit
// for an action and gating it through the usage counter.
package service

import (
	"context"
	"log/slog"
	"strings"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ReasonUnavailable is shown when the usage store cannot be reached and the
// check fails closed.
const ReasonUnavailable = "usage limits are temporarily unavailable, please try again shortly"

// =============================================================================
// Interface Definition
// =============================================================================

// QuotaService decides whether a caller may perform a metered action and
// records usage once the action has succeeded.
type QuotaService interface {
	// CanPerform is a read-only admission check. Actions without a
	// configured limit are unrestricted. On a store failure the decision is
	// a denial and the error carries EUNAVAILABLE.
	CanPerform(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType) (domain.Decision, error)

	// RecordUsage charges amount units of action to the caller. Call it only
	// after the gated action succeeded.
	RecordUsage(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType, amount int64) error

	// GetUsage returns current usage for every metered action of the tier.
	GetUsage(ctx context.Context, userID string, tier domain.PlanTier) (*domain.QuotaUsage, error)
}

// UsageCounter is the subset of the rate limiter used for enforcement.
type UsageCounter interface {
	Check(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.Decision, error)
	Peek(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.UsageWindow, error)
	RecordN(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit, amount int64) (domain.UsageWindow, error)
}

// =============================================================================
// Implementation
// =============================================================================

type quotaService struct {
	policy  *domain.QuotaPolicy
	counter UsageCounter
	logger  *slog.Logger
}

// NewQuotaService creates a new QuotaService.
func NewQuotaService(policy *domain.QuotaPolicy, counter UsageCounter, logger *slog.Logger) QuotaService {
	return &quotaService{
		policy:  policy,
		counter: counter,
		logger:  logger,
	}
}

// CanPerform checks the caller's quota for action.
func (s *quotaService) CanPerform(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType) (domain.Decision, error) {
	const op = "quota.can_perform"

	if userID == "" {
		return domain.Decision{}, domain.Invalid(op, "caller identifier is required")
	}

	limit, ok := s.policy.Lookup(tier, action)
	if !ok {
		metrics.QuotaDecision(string(action), "unrestricted")
		return domain.UnrestrictedDecision(), nil
	}

	decision, err := s.counter.Check(ctx, action, userID, limit)
	if err != nil {
		metrics.QuotaDecision(string(action), "error")
		s.logger.Error("Quota check failed, denying",
			"user_id", userID,
			"action", action,
			"error", err,
		)
		return domain.Decision{Allowed: false, Reason: ReasonUnavailable}, domain.Wrap(err, domain.EUNAVAILABLE, op, ReasonUnavailable)
	}

	if !decision.Allowed {
		decision.Reason = domain.DenialReason(limit)
		metrics.QuotaDecision(string(action), "denied")
		s.logger.Info("Quota exceeded",
			"user_id", userID,
			"tier", tier,
			"action", action,
			"limit", limit.MaxCount,
			"reset_at", decision.ResetAt,
		)
		return decision, nil
	}

	metrics.QuotaDecision(string(action), "allowed")
	return decision, nil
}

// RecordUsage charges amount units against the caller's window.
func (s *quotaService) RecordUsage(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType, amount int64) error {
	const op = "quota.record_usage"

	if userID == "" {
		return domain.Invalid(op, "caller identifier is required")
	}
	if amount <= 0 {
		return domain.Invalid(op, "amount must be positive")
	}

	limit, ok := s.policy.Lookup(tier, action)
	if !ok {
		// Unrestricted actions keep no window
		return nil
	}

	w, err := s.counter.RecordN(ctx, action, userID, limit, amount)
	if err != nil {
		// The external action already happened; the caller may retry a
		// transient failure but must not undo the action.
		s.logger.Error("Failed to record usage",
			"user_id", userID,
			"action", action,
			"amount", amount,
			"transient", domain.IsTransient(err),
			"error", err,
		)
		return err
	}

	metrics.UsageRecorded(string(action), amount)
	s.logger.Debug("Usage recorded",
		"user_id", userID,
		"action", action,
		"amount", amount,
		"count", w.Count,
		"limit", limit.MaxCount,
	)
	return nil
}

// GetUsage returns current quota usage for a caller.
func (s *quotaService) GetUsage(ctx context.Context, userID string, tier domain.PlanTier) (*domain.QuotaUsage, error) {
	const op = "quota.get_usage"

	if userID == "" {
		return nil, domain.Invalid(op, "caller identifier is required")
	}

	limits := s.policy.Limits(tier)

	// If unlimited, return early
	if len(limits) == 0 {
		return &domain.QuotaUsage{
			PlanTier:    tier,
			IsUnlimited: true,
		}, nil
	}

	usage := &domain.QuotaUsage{PlanTier: tier}
	for _, limit := range limits {
		w, err := s.counter.Peek(ctx, limit.ActionType, userID, limit)
		if err != nil {
			return nil, domain.Wrap(err, domain.EUNAVAILABLE, op, ReasonUnavailable)
		}

		remaining := limit.MaxCount - w.Count
		if remaining < 0 {
			remaining = 0
		}
		usage.Lines = append(usage.Lines, domain.UsageLine{
			Action:    limit.ActionType,
			Label:     ActionLabel(limit.ActionType),
			Used:      w.Count,
			Limit:     limit.MaxCount,
			Remaining: remaining,
			Period:    domain.PeriodLabel(limit.WindowDuration),
			ResetAt:   w.WindowStart.Add(limit.WindowDuration),
		})
	}

	return usage, nil
}

// ActionLabel returns a display label for an action, e.g. "Lead Scrape".
func ActionLabel(action domain.ActionType) string {
	// Casers are stateful and not safe to share between goroutines
	return cases.Title(language.English).String(strings.ReplaceAll(string(action), "_", " "))
}
