package tracking

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var trackingStart = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

func newEmail(id, userID string, createdAt time.Time) *domain.TrackedEmail {
	return &domain.TrackedEmail{
		TrackingID: id,
		UserID:     userID,
		Subject:    "Quick question",
		CreatedAt:  createdAt,
	}
}

func TestMemoryStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	e := newEmail("t1", "u1", trackingStart)
	require.NoError(t, s.Create(ctx, e))
	assert.ErrorIs(t, s.Create(ctx, e), ErrExists)

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	// Snapshots are detached from the stored record
	got.Subject = "changed"
	again, _ := s.Get(ctx, "t1")
	assert.Equal(t, "Quick question", again.Subject)

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_MarkOpened(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newEmail("t1", "u1", trackingStart)))

	changed, err := s.MarkOpened(ctx, "t1", trackingStart.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.MarkOpened(ctx, "t1", trackingStart.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	got, _ := s.Get(ctx, "t1")
	require.NotNil(t, got.OpenedAt)
	assert.True(t, got.OpenedAt.Equal(trackingStart.Add(time.Minute)), "first open wins")

	_, err = s.MarkOpened(ctx, "missing", trackingStart)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_ConcurrentClicksAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newEmail("hot", "u1", trackingStart)))

	const workers, perWorker = 8, 100
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := s.AppendClick(ctx, "hot", domain.ClickedLink{OriginalURL: "https://example.com", ClickedAt: trackingStart})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "hot")
	require.NoError(t, err)
	assert.Equal(t, int64(workers*perWorker), got.ClickCount)
	assert.Len(t, got.ClickedLinks, workers*perWorker)
}

func TestMemoryStore_ListByUser(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Create(ctx, newEmail(fmt.Sprintf("a%d", i), "alice", trackingStart.Add(time.Duration(i)*time.Minute))))
	}
	require.NoError(t, s.Create(ctx, newEmail("b0", "bob", trackingStart)))

	emails, err := s.ListByUser(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, emails, 3)
	assert.Equal(t, "a2", emails[0].TrackingID, "newest first")
	assert.Equal(t, "a0", emails[2].TrackingID)

	none, err := s.ListByUser(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStore_ListByIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	require.NoError(t, s.Create(ctx, newEmail("t1", "u1", trackingStart)))
	require.NoError(t, s.Create(ctx, newEmail("t2", "u1", trackingStart)))

	emails, err := s.ListByIDs(ctx, []string{"t2", "missing", "t1"})
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "t2", emails[0].TrackingID)
	assert.Equal(t, "t1", emails[1].TrackingID)
}
