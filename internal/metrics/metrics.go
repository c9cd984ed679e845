package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Realtime gateway
	RealtimeConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsedm_realtime_connections",
			Help: "Current number of authenticated realtime connections",
		},
	)

	RealtimeOnlineUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsedm_realtime_online_users",
			Help: "Current number of users with at least one connection",
		},
	)

	RealtimeEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_realtime_events_total",
			Help: "Realtime events by direction and type",
		},
		[]string{"direction", "type"},
	)

	RealtimeDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_realtime_dropped_total",
			Help: "Outbound events dropped because a connection buffer was full or closed",
		},
		[]string{"type"},
	)

	RealtimeAuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_realtime_auth_failures_total",
			Help: "Realtime connections rejected during authentication",
		},
		[]string{"reason"}, // "invalid", "timeout", "protocol"
	)

	// Messaging
	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_messages_sent_total",
			Help: "Direct messages stored, by entry path",
		},
		[]string{"path"}, // "http", "realtime"
	)

	ConversationsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsedm_conversations_created_total",
			Help: "Direct conversations created",
		},
	)

	// Reconciliation
	ReconcileRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_reconcile_runs_total",
			Help: "Reconciliation runs by trigger",
		},
		[]string{"trigger"}, // "list", "sweep", "cli"
	)

	ReconcilePairs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulsedm_reconcile_pairs_total",
			Help: "Pairs examined by reconciliation, by result",
		},
		[]string{"result"}, // "created", "backfilled", "skipped", "failed"
	)

	// Presence
	FriendLookupBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulsedm_friend_lookup_breaker_state",
			Help: "Friend lookup circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulsedm_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "route", "status"},
	)

	HTTPRateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulsedm_http_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
	)
)

func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

func RecordEvent(direction, eventType string) {
	RealtimeEvents.WithLabelValues(direction, eventType).Inc()
}

func RecordDropped(eventType string) {
	RealtimeDropped.WithLabelValues(eventType).Inc()
}

func RecordReconcile(trigger string, created, backfilled, repaired, skipped, failed int) {
	ReconcileRuns.WithLabelValues(trigger).Inc()
	ReconcilePairs.WithLabelValues("created").Add(float64(created))
	ReconcilePairs.WithLabelValues("backfilled").Add(float64(backfilled))
	ReconcilePairs.WithLabelValues("repaired").Add(float64(repaired))
	ReconcilePairs.WithLabelValues("skipped").Add(float64(skipped))
	ReconcilePairs.WithLabelValues("failed").Add(float64(failed))
}
