// Streamwarden - Media Server Session Monitoring and Policy Enforcement
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/streamwarden

// Package metrics declares the Prometheus instrumentation for Streamwarden.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Poll orchestrator
	PollTickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "streamwarden_poll_tick_duration_seconds",
			Help:    "Duration of a full poll tick across all servers",
			Buckets: prometheus.DefBuckets,
		},
	)

	PollTicksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_poll_ticks_total",
			Help: "Total poll ticks by trigger (scheduled, manual)",
		},
		[]string{"trigger"},
	)

	PollServerFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_poll_server_failures_total",
			Help: "Per-server tick failures by stage",
		},
		[]string{"server_id", "stage"}, // stage: fetch, identity, reconcile, history
	)

	LiveSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streamwarden_live_sessions",
			Help: "Live sessions reported by each server on the last successful tick",
		},
		[]string{"server_id"},
	)

	// Session lifecycle
	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_session_transitions_total",
			Help: "Session lifecycle transitions",
		},
		[]string{"transition"}, // started, updated, paused, resumed, stopped
	)

	// Detection
	ViolationsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_violations_recorded_total",
			Help: "Violations persisted by rule type and severity",
		},
		[]string{"rule_type", "severity"},
	)

	ViolationWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "streamwarden_violation_write_failures_total",
			Help: "Violations detected but not persisted because the transaction failed",
		},
	)

	// Cache and pubsub
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_cache_errors_total",
			Help: "Active-session cache operation failures",
		},
		[]string{"operation"},
	)

	PublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_publish_errors_total",
			Help: "Event publish failures by event name",
		},
		[]string{"event"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_events_published_total",
			Help: "Events handed to the publisher by event name",
		},
		[]string{"event"},
	)

	// Source adapters
	SourceRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamwarden_source_request_duration_seconds",
			Help:    "Media server session fetch latency",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"server_type", "status"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// WebSocket
	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WSMessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_messages_dropped_total",
			Help: "Broadcast messages dropped because the hub buffer was full",
		},
	)

	// Trust
	TrustRecoveryRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_trust_recovery_runs_total",
			Help: "Trust score recovery job runs by result",
		},
		[]string{"result"},
	)

	// Ops HTTP
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streamwarden_http_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "streamwarden_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "streamwarden_http_active_requests",
			Help: "HTTP requests currently being served",
		},
	)
)

// RecordHTTPRequest records one served request. route is the matched
// pattern, never the raw path.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordTick records one completed poll tick.
func RecordTick(trigger string, duration time.Duration) {
	PollTicksTotal.WithLabelValues(trigger).Inc()
	PollTickDuration.Observe(duration.Seconds())
}

// RecordSourceRequest records one adapter fetch.
func RecordSourceRequest(serverType string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	SourceRequestDuration.WithLabelValues(serverType, status).Observe(duration.Seconds())
}
