// Package policy loads the quota policy table: the per-plan limits for every
// metered action. The table is read once at startup and never changes while
// the process runs.
package policy

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	day   = 24 * time.Hour
	month = 30 * day
)

// Default returns the compiled-in policy. Enterprise has no entries, which
// makes every action unrestricted for that tier.
func Default() *domain.QuotaPolicy {
	return domain.NewQuotaPolicy(
		limit(domain.PlanTierFree, domain.ActionLeadScrape, 50, month),
		limit(domain.PlanTierFree, domain.ActionLeadImport, 100, month),
		limit(domain.PlanTierFree, domain.ActionLeadExport, 20, month),
		limit(domain.PlanTierFree, domain.ActionEmailSend, 25, day),
		limit(domain.PlanTierFree, domain.ActionEmailGenerate, 20, day),
		limit(domain.PlanTierFree, domain.ActionCalendarEvent, 10, month),
		limit(domain.PlanTierFree, domain.ActionSchedulingLink, 5, month),
		limit(domain.PlanTierFree, domain.ActionSheetSync, 10, day),

		limit(domain.PlanTierStarter, domain.ActionLeadScrape, 500, month),
		limit(domain.PlanTierStarter, domain.ActionLeadImport, 2000, month),
		limit(domain.PlanTierStarter, domain.ActionLeadExport, 200, month),
		limit(domain.PlanTierStarter, domain.ActionEmailSend, 250, day),
		limit(domain.PlanTierStarter, domain.ActionEmailGenerate, 200, day),
		limit(domain.PlanTierStarter, domain.ActionSchedulingLink, 50, month),

		limit(domain.PlanTierPro, domain.ActionLeadScrape, 5000, month),
		limit(domain.PlanTierPro, domain.ActionLeadImport, 25000, month),
		limit(domain.PlanTierPro, domain.ActionEmailSend, 2000, day),
	)
}

func limit(tier domain.PlanTier, action domain.ActionType, max int64, window time.Duration) domain.PlanLimit {
	return domain.PlanLimit{
		PlanTier:       tier,
		ActionType:     action,
		MaxCount:       max,
		WindowDuration: window,
	}
}

// File is the YAML shape of a policy file:
//
//	tiers:
//	  free:
//	    lead_scrape: {max: 50, window: 30d}
//	    email_send:  {max: 25, window: 24h}
type File struct {
	Tiers map[string]map[string]Entry `yaml:"tiers"`
}

// Entry is one limit in a policy file.
type Entry struct {
	Max    int64  `yaml:"max"`
	Window string `yaml:"window"`
}

// LoadFile reads and parses a YAML policy file.
func LoadFile(path string) (*domain.QuotaPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quota policy: %w", err)
	}
	return Parse(data)
}

// Parse validates a YAML policy document and builds the lookup table.
func Parse(data []byte) (*domain.QuotaPolicy, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse quota policy: %w", err)
	}
	if len(f.Tiers) == 0 {
		return nil, fmt.Errorf("quota policy defines no tiers")
	}

	// Sorted for deterministic error messages
	tierNames := make([]string, 0, len(f.Tiers))
	for name := range f.Tiers {
		tierNames = append(tierNames, name)
	}
	sort.Strings(tierNames)

	var limits []domain.PlanLimit
	for _, tierName := range tierNames {
		tier := domain.PlanTier(strings.ToLower(tierName))
		if !tier.Valid() {
			return nil, fmt.Errorf("quota policy: unknown tier %q", tierName)
		}

		for actionName, entry := range f.Tiers[tierName] {
			action, err := domain.ParseActionType(actionName)
			if err != nil {
				return nil, fmt.Errorf("quota policy: tier %s: %w", tier, err)
			}
			if entry.Max < 0 {
				return nil, fmt.Errorf("quota policy: %s/%s: max must not be negative", tier, action)
			}
			window, err := ParseWindow(entry.Window)
			if err != nil {
				return nil, fmt.Errorf("quota policy: %s/%s: %w", tier, action, err)
			}
			limits = append(limits, limit(tier, action, entry.Max, window))
		}
	}

	return domain.NewQuotaPolicy(limits...), nil
}

// ParseWindow parses a window duration. In addition to time.ParseDuration
// syntax it accepts whole days ("30d").
func ParseWindow(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("window is required")
	}

	var d time.Duration
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		d = time.Duration(n) * day
	} else {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", s)
		}
		d = parsed
	}

	if d <= 0 {
		return 0, fmt.Errorf("window must be positive, got %q", s)
	}
	return d, nil
}
