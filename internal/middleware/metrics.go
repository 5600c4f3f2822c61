package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/leadmeter/internal/identity"
)

// MetricsRealm is the basic auth realm presented by the metrics endpoint.
const MetricsRealm = "leadmeter metrics"

// MetricsAuthMiddleware guards /metrics with basic auth. Quota and tracking
// counters are labeled by action and result, never by caller.
type MetricsAuthMiddleware struct {
	userDigest [sha256.Size]byte
	passDigest [sha256.Size]byte
	enabled    bool
	logger     *slog.Logger
}

// NewMetricsAuthMiddleware creates a new metrics auth middleware.
// If both username and password are empty, authentication is disabled.
func NewMetricsAuthMiddleware(username, password string, logger *slog.Logger) *MetricsAuthMiddleware {
	return &MetricsAuthMiddleware{
		userDigest: sha256.Sum256([]byte(username)),
		passDigest: sha256.Sum256([]byte(password)),
		enabled:    username != "" || password != "",
		logger:     logger,
	}
}

// Handler returns middleware that requires basic authentication.
func (m *MetricsAuthMiddleware) Handler(next http.Handler) http.Handler {
	if !m.enabled {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || !m.matches(user, pass) {
			m.logger.Warn("rejected metrics scrape",
				"ip", identity.ClientIP(r),
				"credentials_present", ok,
			)
			w.Header().Set("WWW-Authenticate", `Basic realm="`+MetricsRealm+`", charset="UTF-8"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "metrics credentials required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// matches compares fixed-size digests so neither length nor content leaks
// through timing. Both comparisons always run.
func (m *MetricsAuthMiddleware) matches(user, pass string) bool {
	userDigest := sha256.Sum256([]byte(user))
	passDigest := sha256.Sum256([]byte(pass))

	userMatch := subtle.ConstantTimeCompare(userDigest[:], m.userDigest[:])
	passMatch := subtle.ConstantTimeCompare(passDigest[:], m.passDigest[:])
	return userMatch&passMatch == 1
}
