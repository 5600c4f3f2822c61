package ratelimit

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
)

const (
	// DefaultMaxRetries bounds the compare-and-swap loop in Record.
	DefaultMaxRetries = 8

	defaultRetryBackoff = 2 * time.Millisecond
)

// Limiter answers admission queries and records successful actions against
// per-key fixed windows.
//
// Check is read-only so a caller can test admission before acting. Record is
// called only after the gated action succeeded, so failed external calls
// never consume quota.
type Limiter struct {
	store      CounterStore
	clock      identity.Clock
	logger     *slog.Logger
	maxRetries int
	backoff    time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithMaxRetries sets how many compare-and-swap attempts Record makes before
// giving up.
func WithMaxRetries(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.maxRetries = n
		}
	}
}

// WithRetryBackoff sets the base delay between compare-and-swap attempts.
// Zero disables sleeping between attempts.
func WithRetryBackoff(d time.Duration) Option {
	return func(l *Limiter) {
		l.backoff = d
	}
}

// NewLimiter creates a Limiter over store.
func NewLimiter(store CounterStore, clock identity.Clock, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:      store,
		clock:      clock,
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		backoff:    defaultRetryBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check reports whether one more action would be admitted under limit. An
// absent or expired window is treated as a fresh, empty window starting now;
// nothing is written.
func (l *Limiter) Check(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.Decision, error) {
	w, err := l.Peek(ctx, action, identifier, limit)
	if err != nil {
		return domain.Decision{}, err
	}

	remaining := limit.MaxCount - w.Count
	if remaining < 0 {
		remaining = 0
	}

	return domain.Decision{
		Allowed:   w.Count < limit.MaxCount,
		Remaining: remaining,
		ResetAt:   w.WindowStart.Add(limit.WindowDuration),
	}, nil
}

// Peek returns the window that is current for (action, identifier) without
// writing anything.
func (l *Limiter) Peek(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) (domain.UsageWindow, error) {
	const op = "ratelimit.check"

	key := Key{Action: action, Identifier: identifier}
	stored, err := l.store.Load(ctx, key)
	if err != nil {
		metrics.QuotaStoreErrors.WithLabelValues("check").Inc()
		return domain.UsageWindow{}, domain.Unavailable(err, op, "usage store unavailable")
	}
	return resolve(stored, key, l.clock.Now(), limit), nil
}

// Record adds one action to the window for (action, identifier).
func (l *Limiter) Record(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit) error {
	_, err := l.RecordN(ctx, action, identifier, limit, 1)
	return err
}

// RecordN adds amount actions atomically. The result is the same as amount
// sequential calls to Record. The window is re-resolved exactly as Check
// does, so an expired window is replaced rather than incremented.
func (l *Limiter) RecordN(ctx context.Context, action domain.ActionType, identifier string, limit domain.PlanLimit, amount int64) (domain.UsageWindow, error) {
	const op = "ratelimit.record"

	if amount <= 0 {
		return domain.UsageWindow{}, domain.Invalid(op, "amount must be positive")
	}

	key := Key{Action: action, Identifier: identifier}
	for attempt := 1; attempt <= l.maxRetries; attempt++ {
		stored, err := l.store.Load(ctx, key)
		if err != nil {
			metrics.QuotaStoreErrors.WithLabelValues("record").Inc()
			return domain.UsageWindow{}, domain.Unavailable(err, op, "usage store unavailable")
		}

		next := resolve(stored, key, l.clock.Now(), limit)
		next.Count += amount
		next.Version++

		swapped, err := l.store.CompareAndSwap(ctx, stored, next)
		if err != nil {
			metrics.QuotaStoreErrors.WithLabelValues("record").Inc()
			return domain.UsageWindow{}, domain.Unavailable(err, op, "usage store unavailable")
		}
		if swapped {
			return next, nil
		}

		metrics.CounterCASRetries.Inc()
		if err := l.wait(ctx, attempt); err != nil {
			return domain.UsageWindow{}, domain.Unavailable(err, op, "record cancelled")
		}
	}

	l.logger.Warn("usage counter contention",
		"key", key.String(),
		"attempts", l.maxRetries,
	)
	return domain.UsageWindow{}, domain.RetryExhausted(op, key.String(), l.maxRetries)
}

// wait sleeps a jittered, linearly growing delay between CAS attempts.
func (l *Limiter) wait(ctx context.Context, attempt int) error {
	if l.backoff <= 0 {
		return ctx.Err()
	}
	d := l.backoff * time.Duration(attempt)
	d += time.Duration(rand.Int64N(int64(l.backoff)))

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// resolve returns the window that is current at now. A missing or expired
// stored window yields a fresh one that keeps the stored version so that the
// replacing write is still a compare-and-swap against what was read.
func resolve(stored *domain.UsageWindow, key Key, now time.Time, limit domain.PlanLimit) domain.UsageWindow {
	if stored != nil && !stored.Expired(now) {
		return *stored
	}

	w := domain.UsageWindow{
		ActionType:     key.Action,
		Identifier:     key.Identifier,
		WindowStart:    now,
		WindowDuration: limit.WindowDuration,
	}
	if stored != nil {
		w.Version = stored.Version
	}
	return w
}
