// Package domain contains core business types and interfaces.
//
// This file defines the metered action types and plan tiers that key the
// usage counters.
package domain

import (
	"fmt"
	"strings"
)

// ActionType identifies a metered action. Every usage counter in the system
// is keyed by (ActionType, identifier).
type ActionType string

const (
	ActionLeadScrape     ActionType = "lead_scrape"
	ActionLeadImport     ActionType = "lead_import"
	ActionLeadExport     ActionType = "lead_export"
	ActionEmailSend      ActionType = "email_send"
	ActionEmailGenerate  ActionType = "email_generate"
	ActionCalendarEvent  ActionType = "calendar_event"
	ActionSchedulingLink ActionType = "scheduling_link"
	ActionSheetSync      ActionType = "sheet_sync"
)

// ActionTypes lists every known action in display order.
var ActionTypes = []ActionType{
	ActionLeadScrape,
	ActionLeadImport,
	ActionLeadExport,
	ActionEmailSend,
	ActionEmailGenerate,
	ActionCalendarEvent,
	ActionSchedulingLink,
	ActionSheetSync,
}

// Valid reports whether a is a known action type.
func (a ActionType) Valid() bool {
	for _, known := range ActionTypes {
		if a == known {
			return true
		}
	}
	return false
}

func (a ActionType) String() string {
	return string(a)
}

// ParseActionType normalizes and validates an action name.
func ParseActionType(s string) (ActionType, error) {
	a := ActionType(strings.ToLower(strings.TrimSpace(s)))
	if !a.Valid() {
		return "", fmt.Errorf("unknown action type %q", s)
	}
	return a, nil
}

// PlanTier represents the subscription plan of a user.
type PlanTier string

const (
	PlanTierFree       PlanTier = "free"
	PlanTierStarter    PlanTier = "starter"
	PlanTierPro        PlanTier = "pro"
	PlanTierEnterprise PlanTier = "enterprise"
)

// PlanTiers lists every known tier.
var PlanTiers = []PlanTier{
	PlanTierFree,
	PlanTierStarter,
	PlanTierPro,
	PlanTierEnterprise,
}

// Valid reports whether t is a known plan tier.
func (t PlanTier) Valid() bool {
	for _, known := range PlanTiers {
		if t == known {
			return true
		}
	}
	return false
}

// ParsePlanTier normalizes a tier name. Unknown or empty names fall back to
// the free tier so that a missing plan never grants paid limits.
func ParsePlanTier(s string) PlanTier {
	t := PlanTier(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return PlanTierFree
	}
	return t
}
