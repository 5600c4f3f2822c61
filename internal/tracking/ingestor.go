package tracking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/DukeRupert/leadmeter/internal/archive"
	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
)

// Results reported on the tracking_events_total metric.
const (
	resultRecorded  = "recorded"
	resultDuplicate = "duplicate"
	resultUnknown   = "unknown"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// Ingestor folds open and click callbacks into tracked email aggregates.
//
// Nothing here reports failure to the remote caller: a pixel fetch has no
// error channel, and a click must always reach its destination. Failures are
// logged and counted instead.
type Ingestor struct {
	store  Store
	sink   archive.Sink
	clock  identity.Clock
	logger *slog.Logger
}

// NewIngestor creates an Ingestor. A nil sink disables archiving.
func NewIngestor(store Store, sink archive.Sink, clock identity.Clock, logger *slog.Logger) *Ingestor {
	if sink == nil {
		sink = archive.NopSink{}
	}
	return &Ingestor{
		store:  store,
		sink:   sink,
		clock:  clock,
		logger: logger.With("component", "ingestor"),
	}
}

// RecordOpen marks the email as opened the first time it is seen. Unknown
// ids and repeated opens are no-ops, so the call is safe to retry.
func (i *Ingestor) RecordOpen(ctx context.Context, ev domain.EngagementEvent) {
	ev.Kind = domain.EngagementOpen
	if ev.TrackingID == "" {
		metrics.TrackingEvent(string(ev.Kind), resultInvalid)
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = i.clock.Now()
	}

	changed, err := i.store.MarkOpened(ctx, ev.TrackingID, ev.ReceivedAt)
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.TrackingEvent(string(ev.Kind), resultUnknown)
		i.logger.Debug("Open for unknown tracking id", "tracking_id", ev.TrackingID)
		return
	case err != nil:
		metrics.TrackingEvent(string(ev.Kind), resultError)
		i.logger.Warn("Failed to record open", "tracking_id", ev.TrackingID, "error", err)
		return
	case !changed:
		metrics.TrackingEvent(string(ev.Kind), resultDuplicate)
	default:
		metrics.TrackingEvent(string(ev.Kind), resultRecorded)
	}

	i.archive(ctx, ev)
}

// RecordClick counts a click and returns the URL the caller should redirect
// to. The target is returned even when the id is unknown or the store is
// down. An empty result means the target is not a safe redirect and the
// request must be refused.
func (i *Ingestor) RecordClick(ctx context.Context, ev domain.EngagementEvent) string {
	ev.Kind = domain.EngagementClick
	if !IsRedirectTarget(ev.TargetURL) {
		metrics.TrackingEvent(string(ev.Kind), resultInvalid)
		return ""
	}
	if ev.TrackingID == "" {
		metrics.TrackingEvent(string(ev.Kind), resultInvalid)
		return ev.TargetURL
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = i.clock.Now()
	}

	_, err := i.store.AppendClick(ctx, ev.TrackingID, domain.ClickedLink{
		OriginalURL: ev.TargetURL,
		ClickedAt:   ev.ReceivedAt,
	})
	switch {
	case errors.Is(err, ErrNotFound):
		metrics.TrackingEvent(string(ev.Kind), resultUnknown)
		i.logger.Debug("Click for unknown tracking id", "tracking_id", ev.TrackingID)
		return ev.TargetURL
	case err != nil:
		metrics.TrackingEvent(string(ev.Kind), resultError)
		i.logger.Warn("Failed to record click", "tracking_id", ev.TrackingID, "error", err)
		return ev.TargetURL
	}

	metrics.TrackingEvent(string(ev.Kind), resultRecorded)
	i.archive(ctx, ev)
	return ev.TargetURL
}

func (i *Ingestor) archive(ctx context.Context, ev domain.EngagementEvent) {
	if err := i.sink.Append(ctx, ev); err != nil {
		i.logger.Debug("Event not archived", "tracking_id", ev.TrackingID, "error", err)
	}
}
