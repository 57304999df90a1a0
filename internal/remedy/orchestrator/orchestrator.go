// SPDX-License-Identifier: Apache-2.0

// Package orchestrator drives targets through their strategy chains.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/core/strategy"
	"github.com/kusari-oss/remedy/internal/remedy/attemptlog"
	"github.com/kusari-oss/remedy/internal/remedy/escalation"
	"github.com/kusari-oss/remedy/internal/remedy/metrics"
	"github.com/kusari-oss/remedy/internal/remedy/registry"
)

// Orchestrator runs batches of targets through the registry's chains,
// recording every attempt and escalating exhausted sessions.
type Orchestrator struct {
	registry *registry.Registry
	log      attemptlog.Log
	notifier escalation.Notifier
	cfg      Config
	logger   *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	newID func() string
	grace time.Duration
}

// Option customizes an Orchestrator
type Option func(*Orchestrator)

// WithClock replaces time.Now for attempt timestamps
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithSleep replaces the backoff sleep. The function must return ctx.Err()
// when the context is cancelled before d elapses.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// WithTimeoutGrace sets how long a timed out strategy is given to return
// before the session moves on without it
func WithTimeoutGrace(d time.Duration) Option {
	return func(o *Orchestrator) { o.grace = d }
}

// WithBatchID replaces the batch ID generator
func WithBatchID(newID func() string) Option {
	return func(o *Orchestrator) { o.newID = newID }
}

// New validates cfg and seals reg. No chain can be registered afterwards.
func New(reg *registry.Registry, log attemptlog.Log, notifier escalation.Notifier, cfg Config, logger *zap.Logger, opts ...Option) (*Orchestrator, error) {
	if reg == nil {
		return nil, fmt.Errorf("%w: registry is required", ErrInvalidConfig)
	}
	if log == nil {
		return nil, fmt.Errorf("%w: attempt log is required", ErrInvalidConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier is required", ErrInvalidConfig)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reg.Seal()

	o := &Orchestrator{
		registry: reg,
		log:      log,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		sleep:    sleepContext,
		newID:    uuid.NewString,
		grace:    DefaultTimeoutGrace,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the effective configuration
func (o *Orchestrator) Config() Config {
	return o.cfg
}

// Remediate works every target to a terminal status. Targets are independent;
// one target's failures never affect another. The returned error is non-nil
// only when the attempt log failed, in which case the batch was stopped and
// the report marks every unfinished session cancelled.
func (o *Orchestrator) Remediate(ctx context.Context, targets []models.Target) (*models.RemediationReport, error) {
	report := &models.RemediationReport{
		BatchID:   o.newID(),
		StartedAt: o.now().UTC(),
		Sessions:  make([]models.Session, len(targets)),
	}

	logger := o.logger.With(zap.String("batch_id", report.BatchID))
	logger.Info("Starting remediation batch",
		zap.Int("targets", len(targets)),
		zap.Int("workers", o.cfg.Workers))

	runCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	var g errgroup.Group
	g.SetLimit(o.cfg.Workers)
	for i := range targets {
		g.Go(func() error {
			metrics.ActiveSessions.Inc()
			defer metrics.ActiveSessions.Dec()

			session := o.runSession(runCtx, abort, report.BatchID, targets[i], logger)
			metrics.SessionsTotal.WithLabelValues(string(session.Status)).Inc()
			report.Sessions[i] = session
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = o.now().UTC()
	report.Tally()
	if buffered := report.BufferedAttempts(); buffered > 0 {
		report.DegradedLogging = true
		logger.Warn("DegradedLogging: some attempts were buffered and are not yet in the attempt log",
			zap.Int("buffered", buffered))
	}
	metrics.BatchDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())

	var batchErr error
	if cause := context.Cause(runCtx); cause != nil && errors.Is(cause, attemptlog.ErrLogUnavailable) {
		batchErr = cause
		report.Error = cause.Error()
	}

	logger.Info("Remediation batch finished",
		zap.Int("fixed", report.FixedCount),
		zap.Int("escalated", report.EscalatedCount),
		zap.Int("unknown_category", report.UnknownCategoryCount),
		zap.Int("cancelled", report.CancelledCount),
		zap.Int("attempts", report.TotalAttempts()))

	return report, batchErr
}

// runSession owns one target for its whole lifetime
func (o *Orchestrator) runSession(ctx context.Context, abort context.CancelCauseFunc, batchID string, target models.Target, logger *zap.Logger) models.Session {
	session := models.Session{BatchID: batchID, Target: target, Status: models.StatusPending}
	logger = logger.With(zap.String("target", target.ID), zap.String("category", string(target.Category)))

	chain, err := o.registry.Resolve(target.Category)
	if err != nil {
		session.Status = models.StatusUnknownCategory
		session.Error = err.Error()
		logger.Warn("No strategy chain for target", zap.Error(err))
		return session
	}

	current := target
	for _, s := range chain.Strategies() {
		if ctx.Err() != nil {
			return o.cancel(ctx, session, logger)
		}

		if cond, ok := s.(strategy.Conditional); ok {
			run, err := cond.ShouldRun(current)
			if err != nil {
				// Condition errors are deterministic, so the strategy is not retried
				started := o.now()
				attempt := o.newAttempt(session, s, current, started, 0, models.Failedf("condition: %v", err), 0)
				if err := o.record(ctx, abort, &session, attempt, logger); err != nil {
					return o.cancel(ctx, session, logger)
				}
				continue
			}
			if !run {
				logger.Debug("Strategy condition not met, skipping", zap.String("strategy", s.Name()))
				continue
			}
		}

		for retry := 0; retry <= o.cfg.MaxRetriesPerStrategy; retry++ {
			if retry > 0 {
				delay := o.cfg.Backoff(retry - 1)
				logger.Debug("Retrying strategy",
					zap.String("strategy", s.Name()),
					zap.Int("retry", retry),
					zap.Duration("backoff", delay))
				if err := o.sleep(ctx, delay); err != nil {
					return o.cancel(ctx, session, logger)
				}
			}
			if ctx.Err() != nil {
				return o.cancel(ctx, session, logger)
			}

			started := o.now()
			outcome := o.execute(ctx, s, current, logger)
			elapsed := o.now().Sub(started)

			attempt := o.newAttempt(session, s, current, started, elapsed, outcome, retry)
			if err := o.record(ctx, abort, &session, attempt, logger); err != nil {
				return o.cancel(ctx, session, logger)
			}

			switch outcome.Kind {
			case models.OutcomeFixed:
				session.Status = models.StatusFixed
				session.Payload = outcome.Payload
				logger.Info("Target fixed",
					zap.String("strategy", s.Name()),
					zap.Int("attempts", len(session.Attempts)))
				return session
			case models.OutcomeNoChange:
				if outcome.Payload != nil {
					current = current.WithPayload(outcome.Payload)
				}
			}
		}
	}

	session.Status = models.StatusEscalated
	logger.Warn("Strategy chain exhausted, escalating",
		zap.Int("attempts", len(session.Attempts)),
		zap.String("last_failure", session.LastFailure()))
	o.notifier.Notify(ctx, session)
	return session
}

type result struct {
	outcome models.Outcome
	err     error
}

// execute runs one strategy under the per-attempt timeout. The strategy's
// context is detached from batch cancellation so an in-flight attempt can
// finish and be logged. Errors and panics become Failed outcomes. After a
// timeout the strategy gets the grace period to observe ctx and return, so the
// session's attempts stay ordered for strategies that honour cancellation.
func (o *Orchestrator) execute(ctx context.Context, s strategy.Strategy, target models.Target, logger *zap.Logger) models.Outcome {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.StrategyTimeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{outcome: models.Failedf("panic: %v", r)}
			}
		}()
		outcome, err := s.Execute(execCtx, target)
		done <- result{outcome: outcome, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-execCtx.Done():
		logger.Warn("Strategy timed out", zap.String("strategy", s.Name()), zap.Duration("timeout", o.cfg.StrategyTimeout))
		o.awaitAbandoned(s, done, logger)
		return models.Failed("timeout")
	}

	if res.err != nil {
		if errors.Is(res.err, context.DeadlineExceeded) {
			return models.Failed("timeout")
		}
		return models.Failedf("exception: %s", res.err)
	}
	if err := res.outcome.Validate(); err != nil {
		return models.Failedf("invalid outcome: %v", err)
	}
	return res.outcome
}

// awaitAbandoned waits up to the grace period for a timed out strategy to return
func (o *Orchestrator) awaitAbandoned(s strategy.Strategy, done <-chan result, logger *zap.Logger) {
	if o.grace <= 0 {
		metrics.AbandonedAttempts.Inc()
		return
	}
	timer := time.NewTimer(o.grace)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		metrics.AbandonedAttempts.Inc()
		logger.Error("Strategy ignored cancellation, abandoning it",
			zap.String("strategy", s.Name()),
			zap.Duration("grace", o.grace))
	}
}

func (o *Orchestrator) newAttempt(session models.Session, s strategy.Strategy, target models.Target, started time.Time, elapsed time.Duration, outcome models.Outcome, retry int) models.Attempt {
	attempt := models.Attempt{
		BatchID:             session.BatchID,
		TargetID:            target.ID,
		Category:            target.Category,
		StrategyName:        s.Name(),
		Outcome:             outcome.Kind,
		Reason:              outcome.Reason,
		StartedAt:           started.UTC(),
		DurationMs:          elapsed.Milliseconds(),
		AttemptIndex:        len(session.Attempts),
		Retry:               retry,
		PayloadDigestBefore: attemptlog.Digest(target.Payload),
	}
	if outcome.Payload != nil {
		attempt.PayloadDigestAfter = attemptlog.Digest(outcome.Payload)
	}
	return attempt
}

// record appends the attempt before anything else runs for the session. A log
// failure stops the whole batch.
func (o *Orchestrator) record(ctx context.Context, abort context.CancelCauseFunc, session *models.Session, attempt models.Attempt, logger *zap.Logger) error {
	metrics.AttemptsTotal.WithLabelValues(string(attempt.Category), attempt.StrategyName, string(attempt.Outcome)).Inc()
	metrics.AttemptDuration.WithLabelValues(string(attempt.Category), attempt.StrategyName).Observe(float64(attempt.DurationMs) / 1000)

	if err := o.log.Append(context.WithoutCancel(ctx), &attempt); err != nil {
		metrics.LogAppendFailures.Inc()
		if !errors.Is(err, attemptlog.ErrLogUnavailable) {
			err = fmt.Errorf("%w: %v", attemptlog.ErrLogUnavailable, err)
		}
		logger.Error("Failed to append attempt, stopping batch", zap.String("strategy", attempt.StrategyName), zap.Error(err))
		session.Error = err.Error()
		abort(err)
		return err
	}

	session.Attempts = append(session.Attempts, attempt)
	logger.Debug("Attempt recorded",
		zap.Uint64("seq", attempt.Seq),
		zap.String("strategy", attempt.StrategyName),
		zap.String("outcome", string(attempt.Outcome)),
		zap.String("reason", attempt.Reason),
		zap.Int("retry", attempt.Retry),
		zap.Int64("duration_ms", attempt.DurationMs))
	return nil
}

func (o *Orchestrator) cancel(ctx context.Context, session models.Session, logger *zap.Logger) models.Session {
	session.Status = models.StatusCancelled
	if session.Error == "" {
		if cause := context.Cause(ctx); cause != nil {
			session.Error = cause.Error()
		}
	}
	logger.Info("Session cancelled", zap.Int("attempts", len(session.Attempts)))
	return session
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
