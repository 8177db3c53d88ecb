// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/keystone-commerce/keystone/pkg/errutil"
)

// Delivery outcomes reported to Metrics.
const (
	OutcomeSent    = "sent"
	OutcomeFailed  = "failed"
	OutcomeDropped = "dropped"
)

// Defaults for DispatcherConfig zero values.
const (
	DefaultQueueSize   = 256
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 30 * time.Second
	DefaultSendTimeout = 30 * time.Second
)

// Metrics counts delivery outcomes.
type Metrics interface {
	RecordNotification(outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordNotification(string) {}

// DispatcherConfig tunes the queue and retry policy. Zero durations and
// queue size take the package defaults. Retries is taken as given; zero
// means a single attempt.
type DispatcherConfig struct {
	QueueSize   int
	Retries     uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	SendTimeout time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
	return c
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithMetrics sets the outcome sink.
func WithMetrics(m Metrics) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// Dispatcher delivers messages on a background worker. Dispatch never
// blocks: when the queue is full the message is dropped and counted.
type Dispatcher struct {
	notifier Notifier
	cfg      DispatcherConfig
	logger   *slog.Logger
	metrics  Metrics

	mu     sync.RWMutex
	closed bool
	queue  chan Message

	// ctx bounds in-flight retries; cancel fires when Close gives up waiting.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewDispatcher starts a dispatcher over notifier. Call Close to stop it.
func NewDispatcher(notifier Notifier, cfg DispatcherConfig, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		notifier: notifier,
		cfg:      cfg,
		logger:   slog.Default(),
		metrics:  nopMetrics{},
		queue:    make(chan Message, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Dispatch queues msg and reports whether it was accepted.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.drop(ctx, msg, "dispatcher closed")
		return false
	}
	select {
	case d.queue <- msg:
		return true
	default:
		d.drop(ctx, msg, "queue full")
		return false
	}
}

// NotifyPasswordReset queues the reset email for address.
func (d *Dispatcher) NotifyPasswordReset(ctx context.Context, address, resetURL string, expiresIn time.Duration) {
	d.Dispatch(ctx, ResetMessage(address, resetURL, expiresIn))
}

// Close stops accepting messages and waits for the queue to drain. If ctx
// ends first, pending retries are abandoned and ctx's error is returned.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return oops.Code("NOTIFY_CLOSE_TIMEOUT").
			With("abandoned", len(d.queue)).
			Wrap(ctx.Err())
	}
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for msg := range d.queue {
		if d.ctx.Err() != nil {
			d.metrics.RecordNotification(OutcomeFailed)
			continue
		}
		d.deliver(msg)
	}
}

func (d *Dispatcher) deliver(msg Message) {
	backoff := retry.WithMaxRetries(d.cfg.Retries,
		retry.WithCappedDuration(d.cfg.MaxDelay, retry.NewExponential(d.cfg.BaseDelay)))

	attempts := 0
	err := retry.Do(d.ctx, backoff, func(ctx context.Context) error {
		attempts++
		sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		defer cancel()
		if err := d.notifier.Send(sendCtx, msg); err != nil {
			d.logger.WarnContext(ctx, "email delivery attempt failed",
				"to", msg.To, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.metrics.RecordNotification(OutcomeFailed)
		errutil.LogError(d.ctx, d.logger, "email delivery failed", err,
			"to", msg.To, "subject", msg.Subject, "attempts", attempts)
		return
	}
	d.metrics.RecordNotification(OutcomeSent)
}

func (d *Dispatcher) drop(ctx context.Context, msg Message, reason string) {
	d.metrics.RecordNotification(OutcomeDropped)
	d.logger.WarnContext(ctx, "email dropped", "to", msg.To, "subject", msg.Subject, "reason", reason)
}
