package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/cespare/xxhash/v2"
)

const memoryShards = 32

// MemoryStore is an in-process Store. Emails are spread over shards by
// tracking id so that callbacks for different emails do not share a lock.
type MemoryStore struct {
	shards [memoryShards]emailShard

	// byUser indexes tracking ids per user; it only changes on Create.
	indexMu sync.RWMutex
	byUser  map[string][]string
}

type emailShard struct {
	mu     sync.Mutex
	emails map[string]*domain.TrackedEmail
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{byUser: make(map[string][]string)}
	for i := range s.shards {
		s.shards[i].emails = make(map[string]*domain.TrackedEmail)
	}
	return s
}

func (s *MemoryStore) shard(trackingID string) *emailShard {
	return &s.shards[xxhash.Sum64String(trackingID)%memoryShards]
}

func (s *MemoryStore) Create(ctx context.Context, e *domain.TrackedEmail) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	sh := s.shard(e.TrackingID)
	sh.mu.Lock()
	if _, exists := sh.emails[e.TrackingID]; exists {
		sh.mu.Unlock()
		return ErrExists
	}
	sh.emails[e.TrackingID] = e.Clone()
	sh.mu.Unlock()

	s.indexMu.Lock()
	s.byUser[e.UserID] = append(s.byUser[e.UserID], e.TrackingID)
	s.indexMu.Unlock()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, trackingID string) (*domain.TrackedEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(trackingID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.emails[trackingID]
	if !ok {
		return nil, ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryStore) MarkOpened(ctx context.Context, trackingID string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	sh := s.shard(trackingID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.emails[trackingID]
	if !ok {
		return false, ErrNotFound
	}
	if e.Opened {
		return false, nil
	}
	e.Opened = true
	e.OpenedAt = &at
	return true, nil
}

func (s *MemoryStore) AppendClick(ctx context.Context, trackingID string, link domain.ClickedLink) (*domain.TrackedEmail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(trackingID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	e, ok := sh.emails[trackingID]
	if !ok {
		return nil, ErrNotFound
	}
	e.ClickCount++
	e.ClickedLinks = append(e.ClickedLinks, link)
	return e.Clone(), nil
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*domain.TrackedEmail, error) {
	s.indexMu.RLock()
	ids := append([]string(nil), s.byUser[userID]...)
	s.indexMu.RUnlock()

	emails, err := s.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(emails, func(i, j int) bool {
		return emails[i].CreatedAt.After(emails[j].CreatedAt)
	})
	return emails, nil
}

func (s *MemoryStore) ListByIDs(ctx context.Context, ids []string) ([]*domain.TrackedEmail, error) {
	out := make([]*domain.TrackedEmail, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
