// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package observability

import "github.com/prometheus/client_golang/prometheus"

// AuthMetrics counts credential operations and outbound notifications. It
// satisfies both auth.Metrics and notify.Metrics.
type AuthMetrics struct {
	Operations    *prometheus.CounterVec
	Notifications *prometheus.CounterVec
}

// NewAuthMetrics creates the counters and registers them on reg.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_auth_operations_total",
				Help: "Credential operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		Notifications: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keystone_notifications_total",
				Help: "Outbound email deliveries by outcome",
			},
			[]string{"outcome"},
		),
	}
	reg.MustRegister(m.Operations, m.Notifications)
	return m
}

// RecordAuthOperation increments the operation counter.
func (m *AuthMetrics) RecordAuthOperation(operation, outcome string) {
	m.Operations.WithLabelValues(operation, outcome).Inc()
}

// RecordNotification increments the notification counter.
func (m *AuthMetrics) RecordNotification(outcome string) {
	m.Notifications.WithLabelValues(outcome).Inc()
}
