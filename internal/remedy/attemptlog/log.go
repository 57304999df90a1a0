// SPDX-License-Identifier: Apache-2.0

package attemptlog

import (
	"context"
	"encoding/hex"
	"errors"
	"iter"
	"time"

	"github.com/zeebo/blake3"

	"github.com/kusari-oss/remedy/internal/core/models"
)

var (
	ErrLogUnavailable = errors.New("attempt log unavailable")
	ErrLogClosed      = errors.New("attempt log closed")
	ErrCorruptEntry   = errors.New("attempt log entry corrupted")
	ErrReadOnly       = errors.New("attempt log opened read-only")
)

// Log is the append-only audit store of attempts. Implementations are safe for
// concurrent use.
type Log interface {
	// Append assigns the next sequence number to a and persists it. Once Append
	// returns nil the attempt is visible to every later Query.
	Append(ctx context.Context, a *models.Attempt) error

	// Query lazily yields attempts matching f in sequence order. Each range over
	// the returned iterator re-reads the store.
	Query(ctx context.Context, f Filter) iter.Seq2[models.Attempt, error]

	Close() error
}

// Filter selects attempts. Zero-valued fields match everything.
type Filter struct {
	BatchID  string
	TargetID string
	Category models.Category
	Status   models.OutcomeKind
	Since    time.Time
	Until    time.Time
	// AfterSeq skips attempts with Seq <= AfterSeq, for pagination
	AfterSeq uint64
	// Limit caps the number of yielded attempts; 0 means unlimited
	Limit int
}

// Match reports whether a satisfies every set field of the filter
func (f Filter) Match(a models.Attempt) bool {
	switch {
	case a.Seq <= f.AfterSeq:
		return false
	case f.BatchID != "" && a.BatchID != f.BatchID:
		return false
	case f.TargetID != "" && a.TargetID != f.TargetID:
		return false
	case f.Category != "" && a.Category != f.Category:
		return false
	case f.Status != "" && a.Outcome != f.Status:
		return false
	case !f.Since.IsZero() && a.StartedAt.Before(f.Since):
		return false
	case !f.Until.IsZero() && !a.StartedAt.Before(f.Until):
		return false
	}
	return true
}

// Collect drains a query into a slice, stopping at the first error
func Collect(seq iter.Seq2[models.Attempt, error]) ([]models.Attempt, error) {
	var out []models.Attempt
	for a, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Digest returns the hex BLAKE3-256 digest of a payload, or "" for an empty payload
func Digest(payload []byte) string {
	if len(payload) == 0 {
		return ""
	}
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
