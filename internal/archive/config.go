package archive

import (
	"fmt"
	"time"
)

// Config holds the configuration for the archive flusher.
type Config struct {
	// BatchSize is the number of events written per object. A batch is
	// flushed early once it is full.
	// Default: 500
	BatchSize int

	// BufferSize bounds the number of events waiting to be flushed. Events
	// arriving at a full buffer are dropped.
	// Default: 10000
	BufferSize int

	// FlushInterval is how often a partial batch is written.
	// Default: 30 seconds
	FlushInterval time.Duration

	// WriteTimeout bounds a single object write.
	// Default: 10 seconds
	WriteTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for the final flush.
	// Default: 15 seconds
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		BatchSize:       500,
		BufferSize:      10000,
		FlushInterval:   30 * time.Second,
		WriteTimeout:    10 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.BufferSize < c.BatchSize {
		return fmt.Errorf("buffer size (%d) must be at least the batch size (%d)", c.BufferSize, c.BatchSize)
	}
	if c.FlushInterval < 10*time.Millisecond {
		return fmt.Errorf("flush interval must be at least 10ms, got %v", c.FlushInterval)
	}
	if c.WriteTimeout < 1*time.Second {
		return fmt.Errorf("write timeout must be at least 1 second, got %v", c.WriteTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	return nil
}
