// Package metrics holds the process-wide Prometheus collectors served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "liveclass"

var (
	MatchAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_attempts_total",
		Help:      "Waiting room joins by outcome (matched, waiting, existing).",
	}, []string{"outcome"})

	MatchRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "match_retries_total",
		Help:      "Matchmaking transactions retried after a unique violation.",
	})

	TurnPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turn_passes_total",
		Help:      "Turn tag attempts by result.",
	}, []string{"result"})

	ImbalanceWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "imbalance_warnings_total",
		Help:      "Collaborative sessions that crossed into imbalance.",
	})

	GuardBlocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "guard_blocks_total",
		Help:      "Student requests rejected by the session status guard.",
	}, []string{"reason"})

	NotifyFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notify_failures_total",
		Help:      "Events that could not be delivered to the broker.",
	}, []string{"reason"})

	TutorRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tutor_requests_total",
		Help:      "Text generation calls by result.",
	}, []string{"result"})

	TutorLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tutor_request_duration_seconds",
		Help:      "Latency of text generation calls.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 9),
	})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route pattern, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route pattern.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	WaitingEntriesExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "waiting_entries_expired_total",
		Help:      "Waiting room entries cancelled by the cleanup sweep.",
	})

	RelayConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "relay_connections",
		Help:      "Open websocket relay connections.",
	})
)
