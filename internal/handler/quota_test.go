package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DukeRupert/leadmeter/internal/auth"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/ratelimit"
	"github.com/DukeRupert/leadmeter/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passthrough(next http.Handler) http.Handler { return next }

func asCaller(r *http.Request, userID string, tier domain.PlanTier) *http.Request {
	return r.WithContext(auth.SetCaller(r.Context(), &auth.Caller{
		UserID:     userID,
		PlanTier:   tier,
		Identifier: userID,
	}))
}

func newQuotaMux(t *testing.T, counter service.UsageCounter) *http.ServeMux {
	t.Helper()

	policy := domain.NewQuotaPolicy(domain.PlanLimit{
		PlanTier:       domain.PlanTierFree,
		ActionType:     domain.ActionLeadScrape,
		MaxCount:       2,
		WindowDuration: 30 * 24 * time.Hour,
	})
	if counter == nil {
		counter = ratelimit.NewLimiter(ratelimit.NewMemoryStore(), identity.NewManualClock(handlerStart), discardLogger())
	}

	mux := http.NewServeMux()
	NewQuotaHandler(service.NewQuotaService(policy, counter, discardLogger()), discardLogger()).RegisterRoutes(mux, passthrough)
	return mux
}

func serve(mux *http.ServeMux, method, target, body string, tier domain.PlanTier) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, asCaller(req, "user-1", tier))
	return rec
}

func TestQuotaHandler_CheckRecordCycle(t *testing.T) {
	mux := newQuotaMux(t, nil)

	for i := 0; i < 2; i++ {
		rec := serve(mux, "POST", "/api/quota/check", `{"action":"lead_scrape"}`, domain.PlanTierFree)
		require.Equal(t, http.StatusOK, rec.Code)

		var d domain.Decision
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
		assert.True(t, d.Allowed)
		assert.Equal(t, int64(2-i), d.Remaining)

		rec = serve(mux, "POST", "/api/quota/record", `{"action":"lead_scrape"}`, domain.PlanTierFree)
		require.Equal(t, http.StatusNoContent, rec.Code)
	}

	rec := serve(mux, "POST", "/api/quota/check", `{"action":"lead_scrape"}`, domain.PlanTierFree)
	require.Equal(t, http.StatusOK, rec.Code)

	var d domain.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.False(t, d.Allowed)
	assert.Equal(t, "monthly lead_scrape limit of 2 reached", d.Reason)
	assert.Zero(t, d.Remaining)
	assert.True(t, d.ResetAt.Equal(handlerStart.Add(30*24*time.Hour)))
}

func TestQuotaHandler_RecordAmount(t *testing.T) {
	mux := newQuotaMux(t, nil)

	rec := serve(mux, "POST", "/api/quota/record", `{"action":"lead_scrape","amount":2}`, domain.PlanTierFree)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = serve(mux, "POST", "/api/quota/check", `{"action":"lead_scrape"}`, domain.PlanTierFree)
	var d domain.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.False(t, d.Allowed)
}

func TestQuotaHandler_Unrestricted(t *testing.T) {
	mux := newQuotaMux(t, nil)

	rec := serve(mux, "POST", "/api/quota/check", `{"action":"lead_scrape"}`, domain.PlanTierEnterprise)
	require.Equal(t, http.StatusOK, rec.Code)

	var d domain.Decision
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&d))
	assert.True(t, d.Allowed)
	assert.True(t, d.Unlimited)
	assert.Equal(t, domain.UnlimitedRemaining, d.Remaining)
}

func TestQuotaHandler_Validation(t *testing.T) {
	mux := newQuotaMux(t, nil)

	tests := []struct {
		name   string
		target string
		body   string
	}{
		{"unknown action", "/api/quota/check", `{"action":"teleport"}`},
		{"malformed body", "/api/quota/check", `{"action":`},
		{"unknown field", "/api/quota/check", `{"action":"lead_scrape","extra":1}`},
		{"zero amount", "/api/quota/record", `{"action":"lead_scrape","amount":0}`},
		{"negative amount", "/api/quota/record", `{"action":"lead_scrape","amount":-3}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(mux, "POST", tc.target, tc.body, domain.PlanTierFree)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp JSONError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, domain.EINVALID, resp.Error.Code)
		})
	}
}

type downCounter struct{}

var errCounterDown = errors.New("counter store down")

func (downCounter) Check(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.Decision, error) {
	return domain.Decision{}, errCounterDown
}

func (downCounter) Peek(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.UsageWindow, error) {
	return domain.UsageWindow{}, errCounterDown
}

func (downCounter) RecordN(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit, amount int64) (domain.UsageWindow, error) {
	return domain.UsageWindow{}, domain.Unavailable(errCounterDown, "ratelimit.record", "counter store unavailable")
}

func TestQuotaHandler_StoreDown(t *testing.T) {
	mux := newQuotaMux(t, downCounter{})

	rec := serve(mux, "POST", "/api/quota/check", `{"action":"lead_scrape"}`, domain.PlanTierFree)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "counter store down")

	rec = serve(mux, "POST", "/api/quota/record", `{"action":"lead_scrape"}`, domain.PlanTierFree)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	rec = serve(mux, "GET", "/api/quota/usage", "", domain.PlanTierFree)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestQuotaHandler_Usage(t *testing.T) {
	mux := newQuotaMux(t, nil)

	require.Equal(t, http.StatusNoContent,
		serve(mux, "POST", "/api/quota/record", `{"action":"lead_scrape"}`, domain.PlanTierFree).Code)

	rec := serve(mux, "GET", "/api/quota/usage", "", domain.PlanTierFree)
	require.Equal(t, http.StatusOK, rec.Code)

	var usage domain.QuotaUsage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&usage))
	assert.False(t, usage.IsUnlimited)
	require.Len(t, usage.Lines, 1)
	assert.Equal(t, "Lead Scrape", usage.Lines[0].Label)
	assert.Equal(t, int64(1), usage.Lines[0].Used)
	assert.Equal(t, int64(1), usage.Lines[0].Remaining)
	assert.Equal(t, "monthly", usage.Lines[0].Period)

	rec = serve(mux, "GET", "/api/quota/usage", "", domain.PlanTierPro)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&usage))
	assert.True(t, usage.IsUnlimited)
}
