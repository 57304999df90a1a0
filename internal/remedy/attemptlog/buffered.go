// SPDX-License-Identifier: Apache-2.0

package attemptlog

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/metrics"
)

// DefaultMaxBuffered is how many attempts BufferedLog holds before giving up
const DefaultMaxBuffered = 10000

// BufferedLog keeps remediation running while the underlying log is failing.
// Failed appends are held in memory, the log is flagged degraded, and the
// buffer is flushed in order on the next successful append or on Flush.
// Buffered attempts are not visible to Query until flushed, and the caller's
// copy keeps Seq 0 since the sequence is only assigned by the inner log.
type BufferedLog struct {
	inner       Log
	logger      *zap.Logger
	maxBuffered int

	mu       sync.Mutex
	pending  []models.Attempt
	degraded atomic.Bool

	// OnDegraded is called each time an append is buffered instead of written
	OnDegraded func(err error)
}

// NewBufferedLog wraps inner with the buffering policy
func NewBufferedLog(inner Log, logger *zap.Logger) *BufferedLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BufferedLog{
		inner:       inner,
		logger:      logger,
		maxBuffered: DefaultMaxBuffered,
	}
}

// WithMaxBuffered overrides the buffer capacity
func (b *BufferedLog) WithMaxBuffered(n int) *BufferedLog {
	if n > 0 {
		b.maxBuffered = n
	}
	return b
}

// Append writes through to the inner log, buffering on failure. It only
// returns an error when the log is closed or the buffer is full.
func (b *BufferedLog) Append(ctx context.Context, a *models.Attempt) error {
	if a == nil {
		return fmt.Errorf("nil attempt")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.pending) > 0 {
		if err := b.flushLocked(ctx); err != nil {
			return b.bufferLocked(a, err)
		}
	}

	if err := b.inner.Append(ctx, a); err != nil {
		if errors.Is(err, ErrLogClosed) || ctx.Err() != nil {
			return err
		}
		return b.bufferLocked(a, err)
	}
	return nil
}

func (b *BufferedLog) bufferLocked(a *models.Attempt, cause error) error {
	if len(b.pending) >= b.maxBuffered {
		return fmt.Errorf("%w: buffer full after: %v", ErrLogUnavailable, cause)
	}
	a.Seq = 0
	b.pending = append(b.pending, *a)
	if !b.degraded.Swap(true) {
		metrics.LogDegraded.Set(1)
		b.logger.Warn("DegradedLogging: attempt log write failed, buffering attempts",
			zap.Error(cause))
	}
	if b.OnDegraded != nil {
		b.OnDegraded(cause)
	}
	return nil
}

func (b *BufferedLog) flushLocked(ctx context.Context) error {
	for len(b.pending) > 0 {
		a := b.pending[0]
		if err := b.inner.Append(ctx, &a); err != nil {
			return err
		}
		b.pending = b.pending[1:]
	}
	if b.degraded.Swap(false) {
		metrics.LogDegraded.Set(0)
		b.logger.Info("attempt log recovered, buffer flushed")
	}
	b.pending = nil
	return nil
}

// Flush writes buffered attempts to the inner log in order
func (b *BufferedLog) Flush(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.flushLocked(ctx); err != nil {
		return fmt.Errorf("%w: flush: %v", ErrLogUnavailable, err)
	}
	return nil
}

// Degraded reports whether attempts are currently being buffered
func (b *BufferedLog) Degraded() bool {
	return b.degraded.Load()
}

// Pending returns the number of buffered attempts
func (b *BufferedLog) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Query reads from the inner log
func (b *BufferedLog) Query(ctx context.Context, f Filter) iter.Seq2[models.Attempt, error] {
	return b.inner.Query(ctx, f)
}

// Close flushes what it can and closes the inner log. Attempts that could not
// be flushed are reported in the error.
func (b *BufferedLog) Close() error {
	flushErr := b.Flush(context.Background())
	if flushErr != nil {
		b.logger.Error("dropping buffered attempts on close",
			zap.Int("pending", b.Pending()), zap.Error(flushErr))
	}
	return errors.Join(flushErr, b.inner.Close())
}
