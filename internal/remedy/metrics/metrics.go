// SPDX-License-Identifier: Apache-2.0

// Package metrics exposes Prometheus instrumentation for remediation runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "remedy"

var (
	// AttemptsTotal counts strategy attempts.
	// Labels: category, strategy, outcome (fixed, no_change, failed)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempts_total",
			Help:      "Total number of strategy attempts by outcome",
		},
		[]string{"category", "strategy", "outcome"},
	)

	// AttemptDuration tracks strategy execution time.
	// Labels: category, strategy
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "attempt_duration_seconds",
			Help:      "Duration of strategy attempts in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"category", "strategy"},
	)

	// SessionsTotal counts finished sessions.
	// Labels: status (fixed, escalated, cancelled, unknown_category)
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "sessions_total",
			Help:      "Total number of remediation sessions by terminal status",
		},
		[]string{"status"},
	)

	// ActiveSessions is the number of sessions currently being worked on.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "active_sessions",
			Help:      "Number of remediation sessions in progress",
		},
	)

	// AbandonedAttempts counts strategies still running after the timeout grace period.
	AbandonedAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "abandoned_attempts_total",
			Help:      "Total number of timed out strategies that ignored cancellation",
		},
	)

	// BatchDuration tracks end-to-end batch time.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "batch_duration_seconds",
			Help:      "Duration of remediation batches in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// LogAppendFailures counts attempt log write failures.
	LogAppendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "attemptlog",
			Name:      "append_failures_total",
			Help:      "Total number of failed attempt log appends",
		},
	)

	// LogDegraded indicates whether attempts are being buffered (1=degraded, 0=healthy).
	LogDegraded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "attemptlog",
			Name:      "degraded",
			Help:      "Whether the attempt log is buffering writes (1=degraded, 0=healthy)",
		},
	)

	// EscalationsTotal counts escalation deliveries.
	// Labels: result (delivered, failed)
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "events_total",
			Help:      "Total number of escalation events by delivery result",
		},
		[]string{"result"},
	)

	// SinkFailures counts failed sink sends after retries.
	// Labels: sink
	SinkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "sink_failures_total",
			Help:      "Total number of escalation sink failures after retries",
		},
		[]string{"sink"},
	)

	// EscalationQueueDepth is the number of events waiting for delivery.
	EscalationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "escalation",
			Name:      "queue_depth",
			Help:      "Number of escalation events waiting for delivery",
		},
	)
)

// Escalation result label values
const (
	ResultDelivered = "delivered"
	ResultFailed    = "failed"
)
