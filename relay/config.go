package relay

import (
	"fmt"
	"time"
)

// DefaultMaxChunkSize is the largest window sent in a single transfer call.
const DefaultMaxChunkSize int64 = 50 * 1024 * 1024

// DefaultCaption is used when an upload request carries no caption.
const DefaultCaption = "Test Upload"

// Config holds configuration for the orchestrator.
type Config struct {
	// MaxChunkSize caps the length of every planned chunk.
	// Default: 50 MiB
	MaxChunkSize int64

	// ChunkAttempts is the number of read+transfer attempts per chunk.
	// Only transient failures are retried, each retry re-reads the window from the source.
	// Default: 1 (no retry)
	ChunkAttempts int

	// RetryWait is the wait between two attempts of the same chunk.
	// Default: 5 seconds
	RetryWait time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize:  DefaultMaxChunkSize,
		ChunkAttempts: 1,
		RetryWait:     5 * time.Second,
	}
}

func (c Config) validate() error {
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("max chunk size must be positive, got %d", c.MaxChunkSize)
	}
	if c.ChunkAttempts < 1 {
		return fmt.Errorf("chunk attempts must be at least 1, got %d", c.ChunkAttempts)
	}
	if c.RetryWait < 0 {
		return fmt.Errorf("retry wait must not be negative")
	}
	return nil
}
