// SPDX-License-Identifier: Apache-2.0

package orchestrator

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// ErrInvalidConfig is returned by New for unusable settings
var ErrInvalidConfig = errors.New("invalid orchestrator config")

const (
	DefaultStrategyTimeout       = 30 * time.Second
	DefaultMaxRetriesPerStrategy = 2
	DefaultBackoffBase           = 500 * time.Millisecond
	DefaultBackoffCap            = 30 * time.Second
	// DefaultTimeoutGrace is how long a timed out strategy may take to return
	DefaultTimeoutGrace = 2 * time.Second

	maxWorkers = 64
)

// Config controls how a batch is worked. It is passed once at construction.
type Config struct {
	// Workers is the number of sessions processed concurrently
	Workers int
	// StrategyTimeout bounds a single strategy execution
	StrategyTimeout time.Duration
	// MaxRetriesPerStrategy is how many times a strategy is re-run after a
	// Failed or NoChange outcome before moving down the chain. Zero is valid.
	MaxRetriesPerStrategy int
	// BackoffBase is the delay before the first retry; it doubles per retry
	BackoffBase time.Duration
	// BackoffCap bounds the retry delay
	BackoffCap time.Duration
}

// DefaultWorkers is the CPU count clamped to [1, 64]
func DefaultWorkers() int {
	return min(max(runtime.NumCPU(), 1), maxWorkers)
}

// DefaultConfig returns the documented defaults
func DefaultConfig() Config {
	return Config{
		Workers:               DefaultWorkers(),
		StrategyTimeout:       DefaultStrategyTimeout,
		MaxRetriesPerStrategy: DefaultMaxRetriesPerStrategy,
		BackoffBase:           DefaultBackoffBase,
		BackoffCap:            DefaultBackoffCap,
	}
}

// ApplyDefaults fills zero durations and worker count. MaxRetriesPerStrategy
// is left alone since zero retries is a meaningful setting.
func (c *Config) ApplyDefaults() {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers()
	}
	if c.StrategyTimeout == 0 {
		c.StrategyTimeout = DefaultStrategyTimeout
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = max(DefaultBackoffCap, c.BackoffBase)
	}
}

// Validate checks the settings after defaults are applied
func (c Config) Validate() error {
	switch {
	case c.Workers < 1 || c.Workers > maxWorkers:
		return fmt.Errorf("%w: workers must be between 1 and %d, got %d", ErrInvalidConfig, maxWorkers, c.Workers)
	case c.StrategyTimeout < 0:
		return fmt.Errorf("%w: strategy timeout must be positive", ErrInvalidConfig)
	case c.MaxRetriesPerStrategy < 0:
		return fmt.Errorf("%w: max retries must not be negative", ErrInvalidConfig)
	case c.BackoffBase < 0 || c.BackoffCap < 0:
		return fmt.Errorf("%w: backoff durations must not be negative", ErrInvalidConfig)
	case c.BackoffCap < c.BackoffBase:
		return fmt.Errorf("%w: backoff cap %s is below base %s", ErrInvalidConfig, c.BackoffCap, c.BackoffBase)
	}
	return nil
}

// Backoff returns the delay before retry number retryIndex+1:
// min(BackoffBase * 2^retryIndex, BackoffCap)
func (c Config) Backoff(retryIndex int) time.Duration {
	d := c.BackoffBase
	for i := 0; i < retryIndex && d < c.BackoffCap; i++ {
		d *= 2
	}
	return min(d, c.BackoffCap)
}
