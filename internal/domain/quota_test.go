package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQuotaPolicy_Lookup(t *testing.T) {
	policy := NewQuotaPolicy(
		PlanLimit{PlanTier: PlanTierFree, ActionType: ActionLeadScrape, MaxCount: 3, WindowDuration: time.Hour},
		PlanLimit{PlanTier: PlanTierFree, ActionType: ActionEmailSend, MaxCount: 10, WindowDuration: 24 * time.Hour},
		PlanLimit{PlanTier: PlanTierFree, ActionType: ActionLeadScrape, MaxCount: 5, WindowDuration: time.Hour},
	)

	l, ok := policy.Lookup(PlanTierFree, ActionLeadScrape)
	assert.True(t, ok)
	assert.Equal(t, int64(5), l.MaxCount, "later entry replaces earlier one")

	_, ok = policy.Lookup(PlanTierPro, ActionLeadScrape)
	assert.False(t, ok)

	_, ok = policy.Lookup(PlanTierFree, ActionLeadExport)
	assert.False(t, ok)

	var nilPolicy *QuotaPolicy
	_, ok = nilPolicy.Lookup(PlanTierFree, ActionLeadScrape)
	assert.False(t, ok)
}

func TestQuotaPolicy_LimitsOrdered(t *testing.T) {
	policy := NewQuotaPolicy(
		PlanLimit{PlanTier: PlanTierFree, ActionType: ActionEmailSend, MaxCount: 10, WindowDuration: time.Hour},
		PlanLimit{PlanTier: PlanTierFree, ActionType: ActionLeadScrape, MaxCount: 3, WindowDuration: time.Hour},
	)

	limits := policy.Limits(PlanTierFree)
	if assert.Len(t, limits, 2) {
		assert.Equal(t, ActionLeadScrape, limits[0].ActionType)
		assert.Equal(t, ActionEmailSend, limits[1].ActionType)
	}
	assert.Empty(t, policy.Limits(PlanTierEnterprise))
}

func TestUsageWindow_Expired(t *testing.T) {
	start := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	w := UsageWindow{WindowStart: start, WindowDuration: time.Hour}

	assert.False(t, w.Expired(start))
	assert.False(t, w.Expired(start.Add(59*time.Minute)))
	assert.True(t, w.Expired(start.Add(time.Hour)), "window boundary belongs to the next window")
	assert.True(t, w.Expired(start.Add(2*time.Hour)))
	assert.Equal(t, start.Add(time.Hour), w.ResetAt())
}

func TestDenialReason(t *testing.T) {
	tests := []struct {
		name  string
		limit PlanLimit
		want  string
	}{
		{
			name:  "monthly",
			limit: PlanLimit{ActionType: ActionLeadScrape, MaxCount: 50, WindowDuration: 30 * 24 * time.Hour},
			want:  "monthly lead_scrape limit of 50 reached",
		},
		{
			name:  "hourly",
			limit: PlanLimit{ActionType: ActionLeadScrape, MaxCount: 3, WindowDuration: time.Hour},
			want:  "hourly lead_scrape limit of 3 reached",
		},
		{
			name:  "odd window",
			limit: PlanLimit{ActionType: ActionEmailSend, MaxCount: 7, WindowDuration: 90 * time.Minute},
			want:  "per-1h30m0s email_send limit of 7 reached",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DenialReason(tt.limit))
		})
	}
}

func TestUnrestrictedDecision(t *testing.T) {
	d := UnrestrictedDecision()
	assert.True(t, d.Allowed)
	assert.True(t, d.Unlimited)
	assert.Equal(t, UnlimitedRemaining, d.Remaining)
	assert.Empty(t, d.Reason)
}

func TestParseActionType(t *testing.T) {
	a, err := ParseActionType(" Lead_Scrape ")
	assert.NoError(t, err)
	assert.Equal(t, ActionLeadScrape, a)

	_, err = ParseActionType("teleport")
	assert.Error(t, err)
}

func TestParsePlanTier(t *testing.T) {
	assert.Equal(t, PlanTierPro, ParsePlanTier("PRO"))
	assert.Equal(t, PlanTierFree, ParsePlanTier(""))
	assert.Equal(t, PlanTierFree, ParsePlanTier("platinum"))
}
