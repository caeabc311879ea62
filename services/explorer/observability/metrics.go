// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the explorer service.
//
// # Description
//
// Metrics cover the HTTP surface, running explorations, websocket clients,
// explorer events and oracle circuit breakers. Engine-level counters
// (iterations, action durations) are recorded by the mcts package through
// OpenTelemetry and are not duplicated here.
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/catalog"
	"github.com/SSJ-07/IB-Research-System-v2-sub000/services/explorer/mcts"
)

// Namespace for all metrics
const metricsNamespace = "ideaforge"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// HTTPRequestsTotal counts requests by method, route and status code.
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTPRequestDuration measures request latency by method and route.
	HTTPRequestDuration *prometheus.HistogramVec

	// ActiveExplorations tracks sessions whose explorer is running.
	ActiveExplorations prometheus.Gauge

	// Sessions tracks open sessions.
	Sessions prometheus.Gauge

	// WebsocketClients tracks connected event stream clients.
	WebsocketClients prometheus.Gauge

	// EventsTotal counts explorer events by type.
	EventsTotal *prometheus.CounterVec

	// DroppedEventsTotal counts progress events dropped for slow websocket
	// clients.
	DroppedEventsTotal prometheus.Counter

	// BreakerState reports each oracle breaker as 0 closed, 1 half-open,
	// 2 open.
	BreakerState *prometheus.GaugeVec

	// ReviewCacheLookups counts review cache results by outcome.
	ReviewCacheLookups *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
//
// # Limitations
//
//   - Panics if the same registerer is used twice (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total HTTP requests by method, route and status",
			},
			[]string{"method", "route", "status"},
		),

		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency in seconds",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.25, 1, 2.5, 10},
			},
			[]string{"method", "route"},
		),

		ActiveExplorations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_explorations",
				Help:      "Number of explorations currently running",
			},
		),

		Sessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "sessions",
				Help:      "Number of open exploration sessions",
			},
		),

		WebsocketClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "ws",
				Name:      "clients",
				Help:      "Number of connected websocket event clients",
			},
		),

		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "explorer",
				Name:      "events_total",
				Help:      "Explorer events emitted by type",
			},
			[]string{"type"},
		),

		DroppedEventsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "ws",
				Name:      "dropped_events_total",
				Help:      "Progress events dropped for slow websocket clients",
			},
		),

		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: "oracle",
				Name:      "breaker_state",
				Help:      "Circuit breaker state per oracle: 0 closed, 1 half-open, 2 open",
			},
			[]string{"oracle"},
		),

		ReviewCacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "review_cache",
				Name:      "lookups_total",
				Help:      "Review cache lookups by result",
			},
			[]string{"result"},
		),
	}
}

// RecordHTTP records one completed request.
func (m *Metrics) RecordHTTP(method, route string, status int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ExplorationStarted increments the active explorations gauge.
func (m *Metrics) ExplorationStarted() {
	m.ActiveExplorations.Inc()
}

// ExplorationEnded decrements the active explorations gauge.
func (m *Metrics) ExplorationEnded() {
	m.ActiveExplorations.Dec()
}

// RecordEvent counts one explorer event.
func (m *Metrics) RecordEvent(t mcts.EventType) {
	m.EventsTotal.WithLabelValues(string(t)).Inc()
}

// RecordDropped counts n dropped events.
func (m *Metrics) RecordDropped(n int) {
	if n > 0 {
		m.DroppedEventsTotal.Add(float64(n))
	}
}

// RecordBreakers publishes the current breaker states.
func (m *Metrics) RecordBreakers(stats []catalog.BreakerStats) {
	for _, s := range stats {
		m.BreakerState.WithLabelValues(s.Name).Set(breakerValue(s.State))
	}
}

// RecordReviewCache adds hit and miss deltas.
func (m *Metrics) RecordReviewCache(hits, misses int64) {
	if hits > 0 {
		m.ReviewCacheLookups.WithLabelValues("hit").Add(float64(hits))
	}
	if misses > 0 {
		m.ReviewCacheLookups.WithLabelValues("miss").Add(float64(misses))
	}
}

func breakerValue(state string) float64 {
	switch state {
	case catalog.CircuitHalfOpen.String():
		return 1
	case catalog.CircuitOpen.String():
		return 2
	default:
		return 0
	}
}
