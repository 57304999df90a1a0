// SPDX-License-Identifier: Apache-2.0

package attemptlog

import (
	"context"
	"fmt"
	"iter"
	"sync"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// MemoryLog keeps attempts in a slice. Used by tests and --in-memory runs.
type MemoryLog struct {
	mu       sync.RWMutex
	attempts []models.Attempt
	closed   bool
}

// NewMemoryLog creates an empty in-memory log
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Append stores a copy of the attempt
func (l *MemoryLog) Append(ctx context.Context, a *models.Attempt) error {
	if a == nil {
		return fmt.Errorf("nil attempt")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrLogClosed
	}

	a.Seq = uint64(len(l.attempts)) + 1
	l.attempts = append(l.attempts, *a)
	return nil
}

// Query walks the slice, re-reading its length each step so attempts appended
// during iteration are picked up
func (l *MemoryLog) Query(ctx context.Context, f Filter) iter.Seq2[models.Attempt, error] {
	return func(yield func(models.Attempt, error) bool) {
		// Seq is index+1, so AfterSeq is a direct offset
		i := int(f.AfterSeq)
		yielded := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(models.Attempt{}, err)
				return
			}

			l.mu.RLock()
			if l.closed {
				l.mu.RUnlock()
				yield(models.Attempt{}, ErrLogClosed)
				return
			}
			if i >= len(l.attempts) {
				l.mu.RUnlock()
				return
			}
			a := l.attempts[i]
			l.mu.RUnlock()
			i++

			if !f.Match(a) {
				continue
			}
			if !yield(a, nil) {
				return
			}
			yielded++
			if f.Limit > 0 && yielded >= f.Limit {
				return
			}
		}
	}
}

// Len returns the number of stored attempts
func (l *MemoryLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.attempts)
}

// Close marks the log closed
func (l *MemoryLog) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}
