// Package ratelimit implements the fixed-window usage counter that gates
// metered actions.
//
// Windows are fixed, not sliding: a window starts at the first recorded
// action and is replaced wholesale once it expires. A caller can therefore
// fit up to 2×MaxCount actions into one window length by straddling a reset.
// This is accepted to keep state O(1) per key.
package ratelimit

import (
	"context"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
)

// Key identifies one usage counter.
type Key struct {
	Action     domain.ActionType
	Identifier string
}

func (k Key) String() string {
	return string(k.Action) + ":" + k.Identifier
}

// KeyOf returns the key of a stored window.
func KeyOf(w *domain.UsageWindow) Key {
	return Key{Action: w.ActionType, Identifier: w.Identifier}
}

// CounterStore persists usage windows. Implementations must make
// CompareAndSwap atomic per key; operations on different keys must not
// contend on a shared lock.
type CounterStore interface {
	// Load returns the stored window for key, or nil if none exists.
	Load(ctx context.Context, key Key) (*domain.UsageWindow, error)

	// CompareAndSwap writes next if the stored window still matches prev.
	// A nil prev means "create only if absent". Matching is by Version
	// and WindowStart together.
	// Returns false without error when another writer got there first.
	CompareAndSwap(ctx context.Context, prev *domain.UsageWindow, next domain.UsageWindow) (bool, error)

	// Sweep deletes windows that expired at or before now and returns how
	// many were removed.
	Sweep(ctx context.Context, now time.Time) (int64, error)
}
