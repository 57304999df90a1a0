// SPDX-License-Identifier: Apache-2.0

package models

import (
	"fmt"
	"strings"
	"time"
)

// Category selects which strategy chain applies to a target
type Category string

const (
	CategoryLint    Category = "lint"
	CategoryBuild   Category = "build"
	CategoryDeploy  Category = "deploy"
	CategoryConfig  Category = "config"
	CategoryRuntime Category = "runtime"
)

// AllCategories lists the categories remedy knows about, in display order
var AllCategories = []Category{CategoryLint, CategoryBuild, CategoryDeploy, CategoryConfig, CategoryRuntime}

// ParseCategory normalizes a category name. The second return value is false when
// the name is not one of the known categories.
func ParseCategory(name string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(name)))
	return c, c.Valid()
}

// Valid reports whether c is a known category
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Target is a unit of work that needs remediation (a failing file, build or deployment)
type Target struct {
	ID       string            `json:"id" yaml:"id"`
	Category Category          `json:"category" yaml:"category"`
	Payload  []byte            `json:"payload,omitempty" yaml:"payload,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// WithPayload returns a copy of the target carrying a different payload
func (t Target) WithPayload(payload []byte) Target {
	t.Payload = payload
	return t
}

// OutcomeKind tags which variant of Outcome is populated
type OutcomeKind string

const (
	OutcomeFixed    OutcomeKind = "fixed"
	OutcomeNoChange OutcomeKind = "no_change"
	OutcomeFailed   OutcomeKind = "failed"
)

// Outcome is the result of a single strategy execution. Use the constructors
// rather than building the struct by hand.
type Outcome struct {
	Kind    OutcomeKind `json:"kind"`
	Payload []byte      `json:"-"`
	Reason  string      `json:"reason,omitempty"`
}

// Fixed reports a successful repair producing payload
func Fixed(payload []byte) Outcome {
	return Outcome{Kind: OutcomeFixed, Payload: payload}
}

// NoChange reports that the strategy ran but did not repair anything
func NoChange() Outcome {
	return Outcome{Kind: OutcomeNoChange}
}

// NoChangeWithPayload reports no repair but hands an updated payload to later strategies
func NoChangeWithPayload(payload []byte) Outcome {
	return Outcome{Kind: OutcomeNoChange, Payload: payload}
}

// Failed reports a failed attempt
func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Failedf is Failed with formatting
func Failedf(format string, args ...interface{}) Outcome {
	return Failed(fmt.Sprintf(format, args...))
}

// Validate checks that exactly one variant is populated
func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeFixed:
		if o.Reason != "" {
			return fmt.Errorf("fixed outcome must not carry a reason")
		}
	case OutcomeNoChange:
		if o.Reason != "" {
			return fmt.Errorf("no_change outcome must not carry a reason")
		}
	case OutcomeFailed:
		if o.Reason == "" {
			return fmt.Errorf("failed outcome requires a reason")
		}
		if o.Payload != nil {
			return fmt.Errorf("failed outcome must not carry a payload")
		}
	default:
		return fmt.Errorf("unknown outcome kind: %q", o.Kind)
	}
	return nil
}

// Attempt is the audit record of one strategy execution. Attempts are never
// mutated once appended to the attempt log. Seq is assigned by the log; it is
// 0 for an attempt that was buffered while the log was degraded and has not
// been written yet.
type Attempt struct {
	Seq                 uint64      `json:"seq" cbor:"1,keyasint" yaml:"seq"`
	BatchID             string      `json:"batch_id" cbor:"2,keyasint" yaml:"batch_id"`
	TargetID            string      `json:"target_id" cbor:"3,keyasint" yaml:"target_id"`
	Category            Category    `json:"category" cbor:"4,keyasint" yaml:"category"`
	StrategyName        string      `json:"strategy" cbor:"5,keyasint" yaml:"strategy"`
	Outcome             OutcomeKind `json:"outcome" cbor:"6,keyasint" yaml:"outcome"`
	Reason              string      `json:"reason,omitempty" cbor:"7,keyasint,omitempty" yaml:"reason,omitempty"`
	StartedAt           time.Time   `json:"started_at" cbor:"8,keyasint" yaml:"started_at"`
	DurationMs          int64       `json:"duration_ms" cbor:"9,keyasint" yaml:"duration_ms"`
	AttemptIndex        int         `json:"attempt_index" cbor:"10,keyasint" yaml:"attempt_index"`
	Retry               int         `json:"retry" cbor:"11,keyasint" yaml:"retry"`
	PayloadDigestBefore string      `json:"payload_digest_before,omitempty" cbor:"12,keyasint,omitempty" yaml:"payload_digest_before,omitempty"`
	PayloadDigestAfter  string      `json:"payload_digest_after,omitempty" cbor:"13,keyasint,omitempty" yaml:"payload_digest_after,omitempty"`
}

// SessionStatus is the lifecycle state of a remediation session
type SessionStatus string

const (
	StatusPending         SessionStatus = "pending"
	StatusFixed           SessionStatus = "fixed"
	StatusEscalated       SessionStatus = "escalated"
	StatusCancelled       SessionStatus = "cancelled"
	StatusUnknownCategory SessionStatus = "unknown_category"
)

// Terminal reports whether the status ends a session
func (s SessionStatus) Terminal() bool {
	return s != StatusPending
}

// Session tracks one target from submission to fixed, escalated or cancelled
type Session struct {
	BatchID  string        `json:"batch_id" yaml:"batch_id"`
	Target   Target        `json:"target" yaml:"target"`
	Attempts []Attempt     `json:"attempts" yaml:"attempts"`
	Status   SessionStatus `json:"status" yaml:"status"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
	// Payload is the repaired payload once Status is fixed
	Payload  []byte        `json:"-" yaml:"-"`
}

// LastFailure returns the reason of the most recent failed attempt, if any
func (s *Session) LastFailure() string {
	for i := len(s.Attempts) - 1; i >= 0; i-- {
		if s.Attempts[i].Outcome == OutcomeFailed {
			return s.Attempts[i].Reason
		}
	}
	return ""
}

// RemediationReport summarizes a batch run
type RemediationReport struct {
	BatchID              string    `json:"batch_id" yaml:"batch_id"`
	StartedAt            time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt           time.Time `json:"finished_at" yaml:"finished_at"`
	Sessions             []Session `json:"sessions" yaml:"sessions"`
	FixedCount           int       `json:"fixed_count" yaml:"fixed_count"`
	EscalatedCount       int       `json:"escalated_count" yaml:"escalated_count"`
	UnknownCategoryCount int       `json:"unknown_category_count" yaml:"unknown_category_count"`
	CancelledCount       int       `json:"cancelled_count" yaml:"cancelled_count"`
	Error                string    `json:"error,omitempty" yaml:"error,omitempty"`
	// DegradedLogging is set when at least one attempt was buffered instead of
	// written. Those attempts carry Seq 0 in the report.
	DegradedLogging      bool      `json:"degraded_logging,omitempty" yaml:"degraded_logging,omitempty"`
}

// Tally recomputes the aggregate counters from the sessions
func (r *RemediationReport) Tally() {
	r.FixedCount, r.EscalatedCount, r.UnknownCategoryCount, r.CancelledCount = 0, 0, 0, 0
	for _, s := range r.Sessions {
		switch s.Status {
		case StatusFixed:
			r.FixedCount++
		case StatusEscalated:
			r.EscalatedCount++
		case StatusUnknownCategory:
			r.UnknownCategoryCount++
		case StatusCancelled:
			r.CancelledCount++
		}
	}
}

// BufferedAttempts counts attempts that had no sequence number when the batch
// finished
func (r *RemediationReport) BufferedAttempts() int {
	n := 0
	for _, s := range r.Sessions {
		for _, a := range s.Attempts {
			if a.Seq == 0 {
				n++
			}
		}
	}
	return n
}

// TotalAttempts counts attempts across all sessions
func (r *RemediationReport) TotalAttempts() int {
	total := 0
	for _, s := range r.Sessions {
		total += len(s.Attempts)
	}
	return total
}

// SuccessRate is the fraction of sessions that ended fixed
func (r *RemediationReport) SuccessRate() float64 {
	if len(r.Sessions) == 0 {
		return 0
	}
	return float64(r.FixedCount) / float64(len(r.Sessions))
}

// AverageAttemptMs is the mean attempt duration in milliseconds
func (r *RemediationReport) AverageAttemptMs() float64 {
	total := r.TotalAttempts()
	if total == 0 {
		return 0
	}
	var sum int64
	for _, s := range r.Sessions {
		for _, a := range s.Attempts {
			sum += a.DurationMs
		}
	}
	return float64(sum) / float64(total)
}

// Exit codes returned by the remediate command
const (
	ExitAllFixed    = 0
	ExitUnresolved  = 1
	ExitConfigError = 2
)

// ExitCode maps the report to the CLI exit status. Unknown categories and
// batch-level errors take precedence over escalations.
func (r *RemediationReport) ExitCode() int {
	if r.Error != "" || r.UnknownCategoryCount > 0 {
		return ExitConfigError
	}
	if r.FixedCount == len(r.Sessions) {
		return ExitAllFixed
	}
	return ExitUnresolved
}
