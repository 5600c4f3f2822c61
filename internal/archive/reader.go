package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/storage"
)

// Reader reads archived engagement events back from storage.
type Reader struct {
	store storage.Storage
}

// NewReader creates a Reader over the archive's storage backend.
func NewReader(store storage.Storage) *Reader {
	return &Reader{store: store}
}

// ReadDay returns the events archived on day.
func (r *Reader) ReadDay(ctx context.Context, day time.Time) ([]domain.EngagementEvent, error) {
	return ReadDay(ctx, r.store, day)
}

// ReadDay returns the archived events from every batch flushed on day (UTC),
// in batch key order.
func ReadDay(ctx context.Context, store storage.Storage, day time.Time) ([]domain.EngagementEvent, error) {
	objs, err := store.List(ctx, storage.ArchivePrefix(day))
	if err != nil {
		return nil, fmt.Errorf("list archive batches: %w", err)
	}

	var events []domain.EngagementEvent
	for _, obj := range objs {
		batch, err := readBatch(ctx, store, obj.Key)
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}
	return events, nil
}

func readBatch(ctx context.Context, store storage.Storage, key string) ([]domain.EngagementEvent, error) {
	rc, _, err := store.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("read archive batch: %w", err)
	}
	defer rc.Close()

	var out []domain.EngagementEvent
	dec := json.NewDecoder(rc)
	for {
		var ev domain.EngagementEvent
		err := dec.Decode(&ev)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode archive batch %s: %w", key, err)
		}
		out = append(out, ev)
	}
}
