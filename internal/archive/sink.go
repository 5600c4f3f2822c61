// Package archive keeps an append-only log of engagement events in object
// storage. The per-email aggregates are the source of truth for dashboards;
// the archive preserves the raw events behind them.
package archive

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/leadmeter/internal/domain"
	"github.com/DukeRupert/leadmeter/internal/identity"
	"github.com/DukeRupert/leadmeter/internal/metrics"
	"github.com/DukeRupert/leadmeter/internal/storage"
	"github.com/oklog/ulid/v2"
)

var (
	// ErrBufferFull is returned by Append when the event was dropped.
	ErrBufferFull = errors.New("archive buffer full")

	// ErrStopped is returned by Append after Stop.
	ErrStopped = errors.New("archive stopped")
)

// Sink receives engagement events. Append must not block the caller on I/O.
type Sink interface {
	Append(ctx context.Context, ev domain.EngagementEvent) error
}

// NopSink discards events. It is used when archiving is disabled.
type NopSink struct{}

func (NopSink) Append(context.Context, domain.EngagementEvent) error { return nil }

// StorageSink buffers events in memory and writes them as NDJSON batches
// to a storage.Storage. Batches are keyed by the day they were flushed.
type StorageSink struct {
	store  storage.Storage
	clock  identity.Clock
	config Config
	logger *slog.Logger

	events  chan domain.EngagementEvent
	entropy io.Reader // only used by the flusher goroutine

	stopped  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewStorageSink creates a StorageSink. It must be started with Start and
// stopped with Stop.
func NewStorageSink(store storage.Storage, clock identity.Clock, config Config, logger *slog.Logger) (*StorageSink, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive config: %w", err)
	}

	return &StorageSink{
		store:   store,
		clock:   clock,
		config:  config,
		logger:  logger,
		events:  make(chan domain.EngagementEvent, config.BufferSize),
		entropy: ulid.Monotonic(rand.Reader, 0),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Append queues ev for the next batch. It never blocks: when the buffer is
// full the event is dropped and ErrBufferFull returned.
func (s *StorageSink) Append(ctx context.Context, ev domain.EngagementEvent) error {
	if s.stopped.Load() {
		return ErrStopped
	}

	select {
	case s.events <- ev:
		return nil
	default:
		metrics.ArchiveDropped()
		return ErrBufferFull
	}
}

// Start runs the flusher until Stop is called or ctx is cancelled.
func (s *StorageSink) Start(ctx context.Context) {
	go s.run(ctx)
	s.logger.Info("Archive started",
		"batch_size", s.config.BatchSize,
		"flush_interval", s.config.FlushInterval,
	)
}

// Stop flushes buffered events and waits for the flusher to exit, up to the
// configured ShutdownTimeout.
func (s *StorageSink) Stop() {
	s.stopOnce.Do(func() {
		s.logger.Info("Stopping archive...")
		s.stopped.Store(true)
		close(s.stopCh)
	})

	select {
	case <-s.done:
		s.logger.Info("Archive stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Archive shutdown timeout exceeded, buffered events may be lost")
	}
}

func (s *StorageSink) run(ctx context.Context) {
	defer close(s.done)

	// Writes outlive cancellation of the server context so the final flush
	// can still land.
	writeCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(s.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]domain.EngagementEvent, 0, s.config.BatchSize)
	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= s.config.BatchSize {
				batch = s.flush(writeCtx, batch)
			}
		case <-ticker.C:
			batch = s.flush(writeCtx, batch)
		case <-s.stopCh:
			s.drain(writeCtx, batch)
			return
		case <-ctx.Done():
			s.stopped.Store(true)
			s.drain(writeCtx, batch)
			return
		}
	}
}

// drain flushes everything still buffered.
func (s *StorageSink) drain(ctx context.Context, batch []domain.EngagementEvent) {
	for {
		select {
		case ev := <-s.events:
			batch = append(batch, ev)
			if len(batch) >= s.config.BatchSize {
				batch = s.flush(ctx, batch)
			}
		default:
			s.flush(ctx, batch)
			return
		}
	}
}

// flush writes batch as one object and returns the emptied slice. A failed
// write is logged and counted; the events are not retried.
func (s *StorageSink) flush(ctx context.Context, batch []domain.EngagementEvent) []domain.EngagementEvent {
	if len(batch) == 0 {
		return batch
	}

	start := time.Now()
	now := s.clock.Now()
	key := storage.ArchiveKey(now, ulid.MustNew(ulid.Timestamp(now), s.entropy).String())

	body, err := encodeBatch(batch)
	if err == nil {
		writeCtx, cancel := context.WithTimeout(ctx, s.config.WriteTimeout)
		err = s.store.Put(writeCtx, key, bytes.NewReader(body), storage.PutOptions{
			ContentType: storage.ContentTypeNDJSON,
		})
		cancel()
	}
	if err != nil {
		metrics.ArchiveFailed(len(batch))
		s.logger.Error("Failed to write archive batch",
			"key", key,
			"events", len(batch),
			"error", err,
		)
		return batch[:0]
	}

	metrics.ArchiveFlushed(len(batch), time.Since(start))
	s.logger.Debug("Wrote archive batch", "key", key, "events", len(batch))
	return batch[:0]
}

func encodeBatch(batch []domain.EngagementEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range batch {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("encode archive event: %w", err)
		}
	}
	return buf.Bytes(), nil
}
