package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func TestMetricsAuthMiddleware_Credentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("prom", "scrape-secret", discardLogger())

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("leadmeter_quota_decisions_total 1"))
	}))

	tests := []struct {
		name          string
		authorization string
		user, pass    string
		useBasicAuth  bool
		expected      int
	}{
		{name: "valid", user: "prom", pass: "scrape-secret", useBasicAuth: true, expected: http.StatusOK},
		{name: "no credentials", expected: http.StatusUnauthorized},
		{name: "wrong username", user: "grafana", pass: "scrape-secret", useBasicAuth: true, expected: http.StatusUnauthorized},
		{name: "wrong password", user: "prom", pass: "guess", useBasicAuth: true, expected: http.StatusUnauthorized},
		{name: "empty credentials", user: "", pass: "", useBasicAuth: true, expected: http.StatusUnauthorized},
		{name: "malformed header", authorization: "Basic not-base64!!", expected: http.StatusUnauthorized},
		{name: "bearer scheme", authorization: "Bearer scrape-secret", expected: http.StatusUnauthorized},
		{
			name:          "header injection",
			authorization: "Basic " + base64.StdEncoding.EncodeToString([]byte("prom:scrape-secret\r\nX-Injected: header")),
			expected:      http.StatusUnauthorized,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/metrics", nil)
			if tc.useBasicAuth {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			if tc.authorization != "" {
				req.Header.Set("Authorization", tc.authorization)
			}
			rec := httptest.NewRecorder()

			wrapped.ServeHTTP(rec, req)

			if rec.Code != tc.expected {
				t.Errorf("expected status %d, got %d", tc.expected, rec.Code)
			}
			if tc.expected == http.StatusOK && rec.Body.String() != "leadmeter_quota_decisions_total 1" {
				t.Errorf("unexpected body %q", rec.Body.String())
			}
		})
	}
}

func TestMetricsAuthMiddleware_Challenge(t *testing.T) {
	mw := NewMetricsAuthMiddleware("prom", "scrape-secret", discardLogger())

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	wwwAuth := rec.Header().Get("WWW-Authenticate")
	if wwwAuth != `Basic realm="leadmeter metrics", charset="UTF-8"` {
		t.Errorf("unexpected WWW-Authenticate header: %q", wwwAuth)
	}

	if body := decodeError(t, rec); body.Code != "unauthorized" {
		t.Errorf("expected code unauthorized, got %q", body.Code)
	}
}

func TestMetricsAuthMiddleware_DisabledWhenNoCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "", discardLogger())

	handlerCalled := false
	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
	}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	wrapped.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("expected handler to be called when auth is disabled")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 when auth is disabled, got %d", rec.Code)
	}
}
