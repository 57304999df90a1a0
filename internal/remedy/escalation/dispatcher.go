// SPDX-License-Identifier: Apache-2.0

package escalation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kusari-oss/remedy/internal/core/models"
	"github.com/kusari-oss/remedy/internal/remedy/metrics"
)

// DispatcherConfig tunes delivery
type DispatcherConfig struct {
	// QueueSize is the buffered queue length before overflow deliveries start
	QueueSize int
	// RatePerSecond caps event deliveries per second across all sinks
	RatePerSecond float64
	Burst         int
	// MaxTries bounds send attempts per sink per event
	MaxTries       uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// SendTimeout bounds a single sink send
	SendTimeout time.Duration
}

// DefaultDispatcherConfig returns the default delivery settings
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:      256,
		RatePerSecond:  5,
		Burst:          5,
		MaxTries:       3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		SendTimeout:    10 * time.Second,
	}
}

// ApplyDefaults sets default values for unset fields
func (c *DispatcherConfig) ApplyDefaults() {
	d := DefaultDispatcherConfig()
	if c.QueueSize <= 0 {
		c.QueueSize = d.QueueSize
	}
	if c.RatePerSecond <= 0 {
		c.RatePerSecond = d.RatePerSecond
	}
	if c.Burst <= 0 {
		c.Burst = d.Burst
	}
	if c.MaxTries == 0 {
		c.MaxTries = d.MaxTries
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
}

// Dispatcher is the asynchronous Notifier. Events go onto a buffered queue
// drained by one goroutine; when the queue is full the event is delivered on
// its own goroutine so Notify never blocks and nothing is dropped.
type Dispatcher struct {
	sinks   []Sink
	cfg     DispatcherConfig
	logger  *zap.Logger
	limiter *rate.Limiter
	now     func() time.Time

	queue chan Event
	ctx   context.Context
	stop  context.CancelFunc
	wg    sync.WaitGroup

	mu       sync.RWMutex
	closed   bool
	outcomes []NotifyOutcome
}

// NewDispatcher starts a dispatcher delivering to sinks. With no sinks,
// events are logged.
func NewDispatcher(cfg DispatcherConfig, logger *zap.Logger, sinks ...Sink) *Dispatcher {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(sinks) == 0 {
		sinks = []Sink{NewLogSink(logger)}
	}

	ctx, stop := context.WithCancel(context.Background())
	d := &Dispatcher{
		sinks:   sinks,
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		now:     time.Now,
		queue:   make(chan Event, cfg.QueueSize),
		ctx:     ctx,
		stop:    stop,
	}

	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for event := range d.queue {
		metrics.EscalationQueueDepth.Set(float64(len(d.queue)))
		d.record(d.Deliver(d.ctx, event))
	}
}

// Notify enqueues an escalation for session. It never blocks.
func (d *Dispatcher) Notify(_ context.Context, session models.Session) {
	event := NewEvent(session, d.now())

	d.mu.RLock()
	if d.closed {
		d.mu.RUnlock()
		d.fail(event, "dispatcher closed")
		d.record(NotifyOutcome{EventID: event.ID, TargetID: event.TargetID, Reason: "dispatcher closed"})
		return
	}
	defer d.mu.RUnlock()

	select {
	case d.queue <- event:
		metrics.EscalationQueueDepth.Set(float64(len(d.queue)))
	default:
		d.logger.Debug("escalation queue full, delivering out of band", zap.String("target", event.TargetID))
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.record(d.Deliver(d.ctx, event))
		}()
	}
}

// Deliver sends event to every sink with bounded retry. Delivered is true only
// if every sink accepted the event.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) NotifyOutcome {
	outcome := NotifyOutcome{EventID: event.ID, TargetID: event.TargetID}

	if err := d.limiter.Wait(ctx); err != nil {
		outcome.Reason = fmt.Sprintf("rate limiter: %v", err)
		d.fail(event, outcome.Reason)
		return outcome
	}

	var failures []string
	for _, sink := range d.sinks {
		if err := d.sendWithRetry(ctx, sink, event); err != nil {
			metrics.SinkFailures.WithLabelValues(sink.Name()).Inc()
			failures = append(failures, fmt.Sprintf("%s: %v", sink.Name(), err))
		}
	}

	if len(failures) > 0 {
		outcome.Reason = strings.Join(failures, "; ")
		d.fail(event, outcome.Reason)
		return outcome
	}

	outcome.Delivered = true
	metrics.EscalationsTotal.WithLabelValues(metrics.ResultDelivered).Inc()
	d.logger.Info("escalation delivered",
		zap.String("event_id", event.ID),
		zap.String("target", event.TargetID),
		zap.Int("sinks", len(d.sinks)))
	return outcome
}

func (d *Dispatcher) sendWithRetry(ctx context.Context, sink Sink, event Event) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.cfg.InitialBackoff
	b.MaxInterval = d.cfg.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		return struct{}{}, sink.Send(sendCtx, event)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(d.cfg.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			d.logger.Debug("escalation sink retry",
				zap.String("sink", sink.Name()),
				zap.Duration("next", next),
				zap.Error(err))
		}),
	)
	return err
}

func (d *Dispatcher) fail(event Event, reason string) {
	metrics.EscalationsTotal.WithLabelValues(metrics.ResultFailed).Inc()
	d.logger.Error("NotifyFailed",
		zap.String("event_id", event.ID),
		zap.String("target", event.TargetID),
		zap.Error(fmt.Errorf("%w: %s", ErrNotifyFailed, reason)))
}

func (d *Dispatcher) record(o NotifyOutcome) {
	d.mu.Lock()
	d.outcomes = append(d.outcomes, o)
	d.mu.Unlock()
}

// Outcomes returns the delivery results so far
func (d *Dispatcher) Outcomes() []NotifyOutcome {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]NotifyOutcome(nil), d.outcomes...)
}

// Close stops accepting events and waits for queued and in-flight deliveries.
// If ctx expires first, pending deliveries are cancelled.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.stop()
		return nil
	case <-ctx.Done():
		d.stop()
		<-done
		return errors.Join(ErrNotifyFailed, ctx.Err())
	}
}

// Failed reports how many recorded outcomes were not delivered
func (d *Dispatcher) Failed() int {
	n := 0
	for _, o := range d.Outcomes() {
		if !o.Delivered {
			n++
		}
	}
	return n
}
