// Package domain contains core business types and interfaces.
//
// This file defines quota types for metering actions against plan limits.
package domain

import (
	"fmt"
	"math"
	"time"
)

// UnlimitedRemaining is reported as Decision.Remaining for actions that have
// no configured limit.
const UnlimitedRemaining int64 = math.MaxInt64

// PlanLimit is an immutable policy entry: at most MaxCount actions of
// ActionType per fixed window of WindowDuration for users on PlanTier.
type PlanLimit struct {
	PlanTier       PlanTier
	ActionType     ActionType
	MaxCount       int64
	WindowDuration time.Duration
}

// QuotaPolicy maps (plan tier, action) to a PlanLimit. It is built once at
// startup and never mutated afterwards, so it is safe for concurrent reads.
type QuotaPolicy struct {
	limits map[PlanTier]map[ActionType]PlanLimit
}

// NewQuotaPolicy builds a policy table. A later entry for the same
// (tier, action) replaces an earlier one.
func NewQuotaPolicy(limits ...PlanLimit) *QuotaPolicy {
	p := &QuotaPolicy{limits: make(map[PlanTier]map[ActionType]PlanLimit)}
	for _, l := range limits {
		byAction, ok := p.limits[l.PlanTier]
		if !ok {
			byAction = make(map[ActionType]PlanLimit)
			p.limits[l.PlanTier] = byAction
		}
		byAction[l.ActionType] = l
	}
	return p
}

// Lookup returns the limit for (tier, action). The boolean is false when no
// limit is configured, which means the action is unrestricted for that tier.
func (p *QuotaPolicy) Lookup(tier PlanTier, action ActionType) (PlanLimit, bool) {
	if p == nil {
		return PlanLimit{}, false
	}
	l, ok := p.limits[tier][action]
	return l, ok
}

// Limits returns every configured limit for a tier, in ActionTypes order.
func (p *QuotaPolicy) Limits(tier PlanTier) []PlanLimit {
	var out []PlanLimit
	for _, a := range ActionTypes {
		if l, ok := p.Lookup(tier, a); ok {
			out = append(out, l)
		}
	}
	return out
}

// UsageWindow is the metering state for one (action, identifier) pair.
// The window is fixed: it is replaced, never slid, once it expires.
type UsageWindow struct {
	ActionType     ActionType
	Identifier     string
	WindowStart    time.Time
	WindowDuration time.Duration
	Count          int64

	// Version is bumped on every successful write and used for
	// compare-and-swap updates.
	Version int64
}

// ResetAt returns the instant the window expires.
func (w *UsageWindow) ResetAt() time.Time {
	return w.WindowStart.Add(w.WindowDuration)
}

// Expired reports whether the window is no longer valid at now.
func (w *UsageWindow) Expired(now time.Time) bool {
	return !now.Before(w.ResetAt())
}

// Decision is the result of an admission check. It is computed on demand and
// never persisted.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Reason    string    `json:"reason,omitempty"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at,omitempty"`
	Unlimited bool      `json:"unlimited,omitempty"`
}

// UnrestrictedDecision is returned for actions with no configured limit.
func UnrestrictedDecision() Decision {
	return Decision{
		Allowed:   true,
		Remaining: UnlimitedRemaining,
		Unlimited: true,
	}
}

// DenialReason builds the user-presentable message for a denied action,
// e.g. "monthly lead_scrape limit of 50 reached".
func DenialReason(limit PlanLimit) string {
	return fmt.Sprintf("%s %s limit of %d reached", PeriodLabel(limit.WindowDuration), limit.ActionType, limit.MaxCount)
}

// PeriodLabel names a window duration for display.
func PeriodLabel(d time.Duration) string {
	switch d {
	case time.Minute:
		return "per-minute"
	case time.Hour:
		return "hourly"
	case 24 * time.Hour:
		return "daily"
	case 7 * 24 * time.Hour:
		return "weekly"
	case 30 * 24 * time.Hour:
		return "monthly"
	case 365 * 24 * time.Hour:
		return "yearly"
	}
	return "per-" + d.String()
}

// UsageLine is one metered action's usage for UI display.
type UsageLine struct {
	Action    ActionType `json:"action"`
	Label     string     `json:"label"`
	Used      int64      `json:"used"`
	Limit     int64      `json:"limit"`
	Remaining int64      `json:"remaining"`
	Period    string     `json:"period"`
	ResetAt   time.Time  `json:"reset_at"`
}

// QuotaUsage represents current usage against quota limits for one caller.
type QuotaUsage struct {
	PlanTier    PlanTier    `json:"plan_tier"`
	Lines       []UsageLine `json:"lines"`
	IsUnlimited bool        `json:"is_unlimited"`
}
