package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
)

// Headers set by the authenticating gateway in front of this service.
const (
	UserIDHeader   = "X-User-ID"
	PlanTierHeader = "X-Plan-Tier"
)

// CallerMiddleware resolves who is making a request for metering purposes.
//
// Authentication happens upstream. Requests arriving without a user id are
// metered as anonymous callers on the free tier, keyed by a fingerprint of
// their client context.
type CallerMiddleware struct {
	fingerprinter *identity.Fingerprinter
	logger        *slog.Logger
}

// NewCallerMiddleware creates a new caller middleware.
func NewCallerMiddleware(fingerprinter *identity.Fingerprinter, logger *slog.Logger) *CallerMiddleware {
	return &CallerMiddleware{
		fingerprinter: fingerprinter,
		logger:        logger,
	}
}

// Handler returns middleware that stores an auth.Caller in the request context.
func (m *CallerMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := m.resolve(r)
		next.ServeHTTP(w, r.WithContext(auth.SetCaller(r.Context(), caller)))
	})
}

func (m *CallerMiddleware) resolve(r *http.Request) *auth.Caller {
	userID := strings.TrimSpace(r.Header.Get(UserIDHeader))

	if userID == "" {
		return &auth.Caller{
			PlanTier:   domain.PlanTierFree,
			Identifier: m.fingerprinter.Fingerprint(r),
		}
	}

	// A user id that looks like a fingerprint would share counters with
	// an anonymous client
	if identity.IsAnonymous(userID) {
		m.logger.Warn("Rejected reserved user id prefix", "user_id", userID)
		return &auth.Caller{
			PlanTier:   domain.PlanTierFree,
			Identifier: m.fingerprinter.Fingerprint(r),
		}
	}

	return &auth.Caller{
		UserID:     userID,
		PlanTier:   domain.ParsePlanTier(r.Header.Get(PlanTierHeader)),
		Identifier: userID,
	}
}

// RequireCaller ensures a caller was resolved before the handler runs.
func RequireCaller(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetCallerFromRequest(r) == nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "caller could not be identified")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	stack := Stack(callerMw.Handler, loggingMw.Handler)
//	mux.Handle("GET /api/quota/usage", stack(usageHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
