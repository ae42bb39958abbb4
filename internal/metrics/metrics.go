// Callstream - Radio Scanner Live Feed Client
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/callstream

// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Channel pool
	PoolConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_pool_connections",
			Help: "Number of established pooled channel connections",
		},
	)

	PoolAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_pool_acquires_total",
			Help: "Channel acquisitions by outcome",
		},
		[]string{"result"}, // "reused", "dialed", "joined", "failed"
	)

	PoolTeardowns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callstream_pool_teardowns_total",
			Help: "Connections torn down after the idle grace period",
		},
	)

	// Transport
	TransportReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_transport_reconnects_total",
			Help: "Push transport reconnections",
		},
		[]string{"transport"},
	)

	TransportInvokes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_transport_invokes_total",
			Help: "Remote invocations by method and result",
		},
		[]string{"transport", "method", "result"},
	)

	TransportEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_transport_events_total",
			Help: "Inbound push events by name",
		},
		[]string{"transport", "event"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "callstream_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Subscriptions
	SubscriptionsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_subscriptions_pending",
			Help: "Talkgroups awaiting server confirmation",
		},
	)

	SubscriptionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_subscriptions_active",
			Help: "Talkgroups in the live set",
		},
	)

	SubscriptionConfirmations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_subscription_confirmations_total",
			Help: "Subscription reconciliations by intent and result",
		},
		[]string{"intent", "result"}, // intent: subscribe/unsubscribe, result: granted/denied
	)

	// Call stream
	CallEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_call_events_total",
			Help: "Call events by classification",
		},
		[]string{"kind"}, // "arrival", "amendment", "backfill", "malformed"
	)

	CallBufferSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_call_buffer_size",
			Help: "Calls currently held in the recency buffer",
		},
	)

	BacklogFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "callstream_backlog_fetch_duration_seconds",
			Help:    "Duration of backlog page fetches",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Playback
	PlaybackQueueLength = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_playback_queue_length",
			Help: "Calls waiting in the playback queue",
		},
	)

	PlaybackItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_playback_items_total",
			Help: "Played queue items by outcome",
		},
		[]string{"outcome"}, // "completed", "skipped", "stopped", "error", "blocked"
	)

	AutoplayProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_autoplay_probes_total",
			Help: "Autoplay permission probes by result",
		},
		[]string{"result"}, // "granted", "denied"
	)

	AssetCacheRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "callstream_asset_cache_requests_total",
			Help: "Audio asset cache lookups",
		},
		[]string{"result"}, // "hit", "miss"
	)

	// API
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "callstream_api_request_duration_seconds",
			Help:    "Local API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	UIClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "callstream_ui_clients",
			Help: "Connected UI websocket clients",
		},
	)

	UIMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "callstream_ui_messages_sent_total",
			Help: "Messages broadcast to UI clients",
		},
	)
)

// RecordInvoke counts one remote invocation.
func RecordInvoke(transport, method string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	TransportInvokes.WithLabelValues(transport, method, result).Inc()
}

// RecordConfirmation counts one reconciled subscription request.
func RecordConfirmation(subscribe, granted bool) {
	intent := "unsubscribe"
	if subscribe {
		intent = "subscribe"
	}
	result := "denied"
	if granted {
		result = "granted"
	}
	SubscriptionConfirmations.WithLabelValues(intent, result).Inc()
}

// RecordProbe counts one autoplay probe.
func RecordProbe(granted bool) {
	if granted {
		AutoplayProbes.WithLabelValues("granted").Inc()
		return
	}
	AutoplayProbes.WithLabelValues("denied").Inc()
}

// RecordAPIRequest observes one API request.
func RecordAPIRequest(method, route, status string, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
