// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package auth

import (
	"log/slog"
	"time"
)

// Metrics receives outcome counts for auth operations.
type Metrics interface {
	RecordAuthOperation(operation, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) RecordAuthOperation(string, string) {}

// Option configures a ResetTokenManager or Coordinator.
type Option func(*options)

type options struct {
	logger  *slog.Logger
	now     func() time.Time
	metrics Metrics
}

func applyOptions(opts []Option) options {
	o := options{
		logger:  slog.Default(),
		now:     time.Now,
		metrics: nopMetrics{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}
