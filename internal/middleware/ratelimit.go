package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"github.com/go-chi/httprate"
)

// =============================================================================
// Key Functions
// =============================================================================

// keyByClientIP keys limits on the same client address that request logs and
// fingerprints use.
func keyByClientIP(r *http.Request) (string, error) {
	return "ip:" + identity.ClientIP(r), nil
}

// keyByCaller keys limits on the resolved caller, falling back to the client
// address when CallerMiddleware has not run.
func keyByCaller(r *http.Request) (string, error) {
	if caller := auth.GetCallerFromRequest(r); caller != nil && caller.Identifier != "" {
		return "caller:" + caller.Identifier, nil
	}
	return keyByClientIP(r)
}

// =============================================================================
// Tracking Endpoints
// =============================================================================

// TrackingRateLimit limits engagement callbacks per client IP.
//
// Over the limit, requests are not rejected: they are handed to degraded,
// which must answer the client (pixel or redirect) without recording the
// event. A recipient is never shown an error page for clicking a link.
// perMinute <= 0 disables the limit.
func TrackingRateLimit(perMinute int, degraded http.Handler, logger *slog.Logger) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByClientIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimited("tracking")
			logger.Debug("tracking rate limit exceeded, serving without recording",
				"ip", identity.ClientIP(r),
				"path", r.URL.Path,
			)
			degraded.ServeHTTP(w, r)
		}),
	)
}

// =============================================================================
// API Endpoints
// =============================================================================

// APIRateLimit limits API requests per caller. Apply it after
// CallerMiddleware. perMinute <= 0 disables the limit.
func APIRateLimit(perMinute int, logger *slog.Logger) func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return httprate.Limit(
		perMinute,
		time.Minute,
		httprate.WithKeyFuncs(keyByCaller),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimited("api")
			key, _ := keyByCaller(r)
			logger.Warn("rate limit exceeded",
				"key", key,
				"path", r.URL.Path,
				"method", r.Method,
			)

			// httprate has already set Retry-After and X-RateLimit-* headers
			writeDomainError(w, http.StatusTooManyRequests, domain.RateLimit("middleware.api_rate_limit"))
		}),
	)
}

// writeDomainError writes err's code and client-safe message.
func writeDomainError(w http.ResponseWriter, status int, err error) {
	writeJSONError(w, status, domain.ErrorCode(err), domain.ErrorMessage(err))
}

// writeJSONError writes the same error envelope the API handlers use.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}
