package tracking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink keeps archived events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.EngagementEvent
}

func (s *recordingSink) Append(_ context.Context, ev domain.EngagementEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Events() []domain.EngagementEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.EngagementEvent(nil), s.events...)
}

// brokenStore fails every operation.
type brokenStore struct{}

var errStoreDown = errors.New("connection refused")

func (brokenStore) Create(context.Context, *domain.TrackedEmail) error { return errStoreDown }
func (brokenStore) Get(context.Context, string) (*domain.TrackedEmail, error) {
	return nil, errStoreDown
}
func (brokenStore) MarkOpened(context.Context, string, time.Time) (bool, error) {
	return false, errStoreDown
}
func (brokenStore) AppendClick(context.Context, string, domain.ClickedLink) (*domain.TrackedEmail, error) {
	return nil, errStoreDown
}
func (brokenStore) ListByUser(context.Context, string) ([]*domain.TrackedEmail, error) {
	return nil, errStoreDown
}
func (brokenStore) ListByIDs(context.Context, []string) ([]*domain.TrackedEmail, error) {
	return nil, errStoreDown
}

type ingestorFixture struct {
	store    *MemoryStore
	sink     *recordingSink
	clock    *identity.ManualClock
	ingestor *Ingestor
}

func newIngestorFixture(t *testing.T) *ingestorFixture {
	t.Helper()
	f := &ingestorFixture{
		store: NewMemoryStore(),
		sink:  &recordingSink{},
		clock: identity.NewManualClock(trackingStart),
	}
	f.ingestor = NewIngestor(f.store, f.sink, f.clock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, f.store.Create(context.Background(), newEmail("t1", "u1", trackingStart)))
	return f
}

func TestIngestor_RecordOpenIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)

	f.clock.Advance(time.Minute)
	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t1"})
	f.clock.Advance(time.Hour)
	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t1"})

	got, err := f.store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, got.Opened)
	require.NotNil(t, got.OpenedAt)
	assert.True(t, got.OpenedAt.Equal(trackingStart.Add(time.Minute)))

	emails, err := f.store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), domain.CalculateEngagementStats(emails).Opened)

	// Both fetches are archived as raw events
	events := f.sink.Events()
	require.Len(t, events, 2)
	assert.Equal(t, domain.EngagementOpen, events[0].Kind)
}

func TestIngestor_RecordClickCountsEveryClick(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)

	const k = 5
	for i := 0; i < k; i++ {
		f.clock.Advance(time.Second)
		target := f.ingestor.RecordClick(ctx, domain.EngagementEvent{
			TrackingID: "t1",
			TargetURL:  "https://example.com/offer",
		})
		assert.Equal(t, "https://example.com/offer", target)
	}

	got, err := f.store.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(k), got.ClickCount)
	require.Len(t, got.ClickedLinks, k)
	assert.True(t, got.ClickedLinks[0].ClickedAt.Equal(trackingStart.Add(time.Second)))
	assert.False(t, got.Opened, "a click does not imply an open")
	assert.Len(t, f.sink.Events(), k)
}

func TestIngestor_UnknownTrackingID(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)

	unknown := testutil.ToFloat64(metrics.TrackingEvents.WithLabelValues("click", "unknown"))

	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "nope"})
	target := f.ingestor.RecordClick(ctx, domain.EngagementEvent{TrackingID: "nope", TargetURL: "https://example.com"})

	assert.Equal(t, "https://example.com", target)
	assert.Empty(t, f.sink.Events(), "unknown ids are not archived")
	assert.Equal(t, unknown+1, testutil.ToFloat64(metrics.TrackingEvents.WithLabelValues("click", "unknown")))
}

func TestIngestor_RecordClickRejectsUnsafeTargets(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)

	for _, target := range []string{"", "javascript:alert(1)", "/internal", "//evil.example.com"} {
		assert.Empty(t, f.ingestor.RecordClick(ctx, domain.EngagementEvent{TrackingID: "t1", TargetURL: target}))
	}

	got, _ := f.store.Get(ctx, "t1")
	assert.Zero(t, got.ClickCount)
}

func TestIngestor_MissingTrackingIDStillRedirects(t *testing.T) {
	f := newIngestorFixture(t)

	target := f.ingestor.RecordClick(context.Background(), domain.EngagementEvent{TargetURL: "https://example.com"})
	assert.Equal(t, "https://example.com", target)
}

func TestIngestor_StoreOutage(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	ing := NewIngestor(brokenStore{}, sink, identity.NewManualClock(trackingStart), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// Neither call panics or blocks; the click still yields its target
	ing.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t1"})
	target := ing.RecordClick(ctx, domain.EngagementEvent{TrackingID: "t1", TargetURL: "https://example.com/x"})
	assert.Equal(t, "https://example.com/x", target)
	assert.Empty(t, sink.Events())
}

func TestIngestor_KeepsEventTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)

	at := trackingStart.Add(42 * time.Second)
	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t1", ReceivedAt: at, SourceAddress: "203.0.113.9"})

	got, _ := f.store.Get(ctx, "t1")
	require.NotNil(t, got.OpenedAt)
	assert.True(t, got.OpenedAt.Equal(at))
	assert.Equal(t, "203.0.113.9", f.sink.Events()[0].SourceAddress)
}

func TestIngestor_EventsFoldIntoStats(t *testing.T) {
	ctx := context.Background()
	f := newIngestorFixture(t)
	require.NoError(t, f.store.Create(ctx, newEmail("t2", "u1", trackingStart)))
	require.NoError(t, f.store.Create(ctx, newEmail("t3", "u1", trackingStart)))
	require.NoError(t, f.store.Create(ctx, newEmail("t4", "u1", trackingStart)))

	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t1"})
	f.ingestor.RecordOpen(ctx, domain.EngagementEvent{TrackingID: "t2"})
	f.ingestor.RecordClick(ctx, domain.EngagementEvent{TrackingID: "t2", TargetURL: "https://example.com"})
	f.ingestor.RecordClick(ctx, domain.EngagementEvent{TrackingID: "t2", TargetURL: "https://example.com"})

	emails, err := f.store.ListByUser(ctx, "u1")
	require.NoError(t, err)
	stats := domain.CalculateEngagementStats(emails)
	assert.Equal(t, int64(4), stats.TotalSent)
	assert.Equal(t, int64(2), stats.Opened)
	assert.Equal(t, int64(1), stats.Clicked)
	assert.Equal(t, int64(2), stats.TotalClicks)
	assert.InDelta(t, 0.5, stats.OpenRate, 1e-9)
	assert.InDelta(t, 0.25, stats.ClickRate, 1e-9)
}
