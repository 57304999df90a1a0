// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kusari-oss/remedy/internal/core/models"
)

// ErrNotifyFailed is reported when an escalation could not be delivered to every sink
var ErrNotifyFailed = errors.New("escalation delivery failed")

// Notifier is told about sessions that exhausted their strategy chain.
// Notify must not block the caller.
type Notifier interface {
	Notify(ctx context.Context, session models.Session)
}

// Sink delivers escalation events to a human-facing channel
type Sink interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// AttemptSummary is the part of an attempt included in an escalation
type AttemptSummary struct {
	Strategy string             `json:"strategy"`
	Outcome  models.OutcomeKind `json:"outcome"`
	Reason   string             `json:"reason,omitempty"`
	Retry    int                `json:"retry"`
}

// Event is what sinks receive
type Event struct {
	ID           string            `json:"id"`
	BatchID      string            `json:"batch_id"`
	TargetID     string            `json:"target_id"`
	Category     models.Category   `json:"category"`
	AttemptCount int               `json:"attempt_count"`
	LastFailure  string            `json:"last_failure,omitempty"`
	EscalatedAt  time.Time         `json:"escalated_at"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Attempts     []AttemptSummary  `json:"attempts"`
}

// NewEvent builds the escalation event for a session
func NewEvent(session models.Session, now time.Time) Event {
	attempts := make([]AttemptSummary, len(session.Attempts))
	for i, a := range session.Attempts {
		attempts[i] = AttemptSummary{
			Strategy: a.StrategyName,
			Outcome:  a.Outcome,
			Reason:   a.Reason,
			Retry:    a.Retry,
		}
	}

	return Event{
		ID:           uuid.NewString(),
		BatchID:      session.BatchID,
		TargetID:     session.Target.ID,
		Category:     session.Target.Category,
		AttemptCount: len(session.Attempts),
		LastFailure:  session.LastFailure(),
		EscalatedAt:  now.UTC(),
		Metadata:     session.Target.Metadata,
		Attempts:     attempts,
	}
}

// Title is a one-line summary used by chat and issue sinks
func (e Event) Title() string {
	return fmt.Sprintf("remedy: %s escalated", e.TargetID)
}

// Summary renders the event as plain text
func (e Event) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Target %s (%s) could not be fixed after %d attempts.\n", e.TargetID, e.Category, e.AttemptCount)
	if e.LastFailure != "" {
		fmt.Fprintf(&b, "Last failure: %s\n", e.LastFailure)
	}
	fmt.Fprintf(&b, "Batch: %s\nEscalated at: %s\n", e.BatchID, e.EscalatedAt.Format(time.RFC3339))
	if len(e.Attempts) > 0 {
		b.WriteString("\nAttempts:\n")
		for i, a := range e.Attempts {
			fmt.Fprintf(&b, "%d. %s (retry %d): %s", i+1, a.Strategy, a.Retry, a.Outcome)
			if a.Reason != "" {
				fmt.Fprintf(&b, " - %s", a.Reason)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// NotifyOutcome records whether an event reached every sink
type NotifyOutcome struct {
	EventID   string `json:"event_id"`
	TargetID  string `json:"target_id"`
	Delivered bool   `json:"delivered"`
	Reason    string `json:"reason,omitempty"`
}
