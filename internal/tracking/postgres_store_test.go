package tracking

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/DukeRupert/leadmeter/internal"
	"github.com/DukeRupert/leadmeter/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestDB connects to TEST_DATABASE_URL and applies migrations. Tests are
// skipped when it is not set.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, internal.RunMigrations(context.Background(), db, slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err = db.Exec(`DELETE FROM tracked_emails WHERE user_id LIKE 'pgtest-%'`)
	require.NoError(t, err)
	return db
}

func TestPostgresStore_Lifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(openTestDB(t))

	e := newEmail("pgtest-t1", "pgtest-u1", trackingStart)
	e.LeadID = "lead-9"
	require.NoError(t, s.Create(ctx, e))
	assert.ErrorIs(t, s.Create(ctx, e), ErrExists)

	got, err := s.Get(ctx, "pgtest-t1")
	require.NoError(t, err)
	assert.Equal(t, "lead-9", got.LeadID)
	assert.False(t, got.Opened)
	assert.Empty(t, got.ClickedLinks)

	changed, err := s.MarkOpened(ctx, "pgtest-t1", trackingStart.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = s.MarkOpened(ctx, "pgtest-t1", trackingStart.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = s.MarkOpened(ctx, "pgtest-missing", trackingStart)
	assert.ErrorIs(t, err, ErrNotFound)

	updated, err := s.AppendClick(ctx, "pgtest-t1", domain.ClickedLink{OriginalURL: "https://example.com/a", ClickedAt: trackingStart})
	require.NoError(t, err)
	assert.Equal(t, int64(1), updated.ClickCount)
	require.Len(t, updated.ClickedLinks, 1)
	assert.Equal(t, "https://example.com/a", updated.ClickedLinks[0].OriginalURL)
	require.NotNil(t, updated.OpenedAt)
	assert.True(t, updated.OpenedAt.Equal(trackingStart.Add(time.Minute)))

	_, err = s.AppendClick(ctx, "pgtest-missing", domain.ClickedLink{OriginalURL: "https://example.com"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_ConcurrentClicks(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(openTestDB(t))
	require.NoError(t, s.Create(ctx, newEmail("pgtest-hot", "pgtest-u2", trackingStart)))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AppendClick(ctx, "pgtest-hot", domain.ClickedLink{OriginalURL: "https://example.com", ClickedAt: trackingStart})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, "pgtest-hot")
	require.NoError(t, err)
	assert.Equal(t, int64(20), got.ClickCount)
	assert.Len(t, got.ClickedLinks, 20)
}

func TestPostgresStore_Lists(t *testing.T) {
	ctx := context.Background()
	s := NewPostgresStore(openTestDB(t))

	require.NoError(t, s.Create(ctx, newEmail("pgtest-l1", "pgtest-u3", trackingStart)))
	require.NoError(t, s.Create(ctx, newEmail("pgtest-l2", "pgtest-u3", trackingStart.Add(time.Minute))))

	emails, err := s.ListByUser(ctx, "pgtest-u3")
	require.NoError(t, err)
	require.Len(t, emails, 2)
	assert.Equal(t, "pgtest-l2", emails[0].TrackingID)

	byID, err := s.ListByIDs(ctx, []string{"pgtest-l1", "pgtest-nope"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "pgtest-l1", byID[0].TrackingID)

	empty, err := s.ListByIDs(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
