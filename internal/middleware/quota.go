package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
)

// Response headers describing the caller's remaining quota.
const (
	QuotaRemainingHeader = "X-Quota-Remaining"
	QuotaResetHeader     = "X-Quota-Reset"
)

// QuotaEnforcer is the part of the quota service used to gate routes.
type QuotaEnforcer interface {
	CanPerform(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType) (domain.Decision, error)
	RecordUsage(ctx context.Context, userID string, tier domain.PlanTier, action domain.ActionType, amount int64) error
}

// QuotaMiddleware gates routes that perform a metered action.
//
// The check runs before the handler and usage is recorded only after the
// handler responds with a 2xx status, so a failed action is never charged.
// Check and record are separate steps: concurrent requests from one caller
// may overshoot the limit by the number in flight.
type QuotaMiddleware struct {
	quota  QuotaEnforcer
	logger *slog.Logger
}

// NewQuotaMiddleware creates a new quota middleware.
func NewQuotaMiddleware(quota QuotaEnforcer, logger *slog.Logger) *QuotaMiddleware {
	return &QuotaMiddleware{
		quota:  quota,
		logger: logger,
	}
}

// Gate returns middleware that meters one unit of action per successful
// request. Apply it after CallerMiddleware.
func (m *QuotaMiddleware) Gate(action domain.ActionType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := auth.GetCallerFromRequest(r)
			if caller == nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "caller could not be identified")
				return
			}

			decision, err := m.quota.CanPerform(r.Context(), caller.Identifier, caller.PlanTier, action)
			if err != nil {
				// Fail closed
				writeJSONError(w, http.StatusServiceUnavailable, domain.EUNAVAILABLE, domain.ErrorMessage(err))
				return
			}

			if !decision.Unlimited {
				w.Header().Set(QuotaRemainingHeader, strconv.FormatInt(decision.Remaining, 10))
				w.Header().Set(QuotaResetHeader, decision.ResetAt.UTC().Format(time.RFC3339))
			}

			if !decision.Allowed {
				retryAfter := int(time.Until(decision.ResetAt).Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeDomainError(w, http.StatusTooManyRequests, domain.QuotaExceeded("middleware.gate", action, decision.Reason))
				return
			}

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			if wrapped.statusCode < 200 || wrapped.statusCode >= 300 {
				return
			}

			// The action already happened; a failed record is logged, not
			// surfaced to the client
			if err := m.quota.RecordUsage(context.WithoutCancel(r.Context()), caller.Identifier, caller.PlanTier, action, 1); err != nil {
				m.logger.Error("Failed to record usage after successful action",
					"identifier", caller.Identifier,
					"action", action,
					"request_id", RequestID(r.Context()),
					"error", err,
				)
			}
		})
	}
}
