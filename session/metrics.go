// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cap_session"

// refresh results
const (
	refreshSuccess        = "success"
	refreshFailure        = "failure"
	refreshInvalid        = "invalid"
	refreshNoRefreshToken = "no_refresh_token"
	refreshExhausted      = "exhausted"
)

type metrics struct {
	refreshes     *prometheus.CounterVec
	notifications prometheus.Counter
	active        prometheus.Gauge
}

// newMetrics creates the session collectors and registers them with reg when
// it's not nil.  Collectors already registered by another Observer are
// shared.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	const op = "session.newMetrics"
	m := &metrics{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "refresh_total",
			Help:      "Token refreshes by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notifications_total",
			Help:      "Token update notifications sent to subscribers.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active",
			Help:      "1 when the session holds verified tokens, 0 otherwise.",
		}),
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.refreshes, err = register(reg, m.refreshes); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.notifications, err = register(reg, m.notifications); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if m.active, err = register(reg, m.active); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) refreshed(result string) {
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *metrics) notified(active bool) {
	m.notifications.Inc()
	m.setActive(active)
}

func (m *metrics) setActive(active bool) {
	if active {
		m.active.Set(1)
		return
	}
	m.active.Set(0)
}
