package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/cespare/xxhash/v2"
)

const memoryShards = 64

// MemoryStore is an in-process CounterStore. Keys are partitioned across
// shards, each with its own mutex, so unrelated keys rarely contend and
// there is no global lock.
type MemoryStore struct {
	shards [memoryShards]memoryShard
}

type memoryShard struct {
	mu      sync.Mutex
	windows map[Key]domain.UsageWindow
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i].windows = make(map[Key]domain.UsageWindow)
	}
	return s
}

func (s *MemoryStore) shard(key Key) *memoryShard {
	h := xxhash.New()
	_, _ = h.WriteString(string(key.Action))
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(key.Identifier)
	return &s.shards[h.Sum64()%memoryShards]
}

// Load returns a copy of the stored window, or nil.
func (s *MemoryStore) Load(ctx context.Context, key Key) (*domain.UsageWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok {
		return nil, nil
	}
	return &w, nil
}

// CompareAndSwap stores next if the current version matches prev.
func (s *MemoryStore) CompareAndSwap(ctx context.Context, prev *domain.UsageWindow, next domain.UsageWindow) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := KeyOf(&next)
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	cur, exists := sh.windows[key]
	switch {
	case prev == nil && exists:
		return false, nil
	case prev != nil && (!exists || !sameWindow(cur, *prev)):
		return false, nil
	}

	sh.windows[key] = next
	return true, nil
}

// sameWindow reports whether a and b are the same generation of a window.
// Version alone is not enough: a window recreated after a sweep restarts
// its version, so the start time tells the generations apart.
func sameWindow(a, b domain.UsageWindow) bool {
	return a.Version == b.Version && a.WindowStart.Equal(b.WindowStart)
}

// Sweep removes expired windows shard by shard.
func (s *MemoryStore) Sweep(ctx context.Context, now time.Time) (int64, error) {
	var removed int64
	for i := range s.shards {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, w := range sh.windows {
			if w.Expired(now) {
				delete(sh.windows, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of stored windows.
func (s *MemoryStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// RunSweeper periodically removes expired windows until ctx is cancelled.
// Sweeping only reclaims memory; expired windows are already ignored by
// Check and replaced by Record.
func RunSweeper(ctx context.Context, store CounterStore, now func() time.Time, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Sweep(ctx, now())
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("usage window sweep failed", "error", err)
				}
				continue
			}
			if removed > 0 {
				logger.Debug("swept expired usage windows", "removed", removed)
			}
		}
	}
}
