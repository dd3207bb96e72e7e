package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EscrowTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_transaction_transitions_total",
			Help: "Escrow transaction status transitions",
		},
		[]string{"from", "to"},
	)

	MilestoneOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_milestone_outcomes_total",
			Help: "Milestones moved to a final status",
		},
		[]string{"milestone_type", "status"},
	)

	LifecycleRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_lifecycle_rejections_total",
			Help: "Lifecycle operations rejected, by error code",
		},
		[]string{"operation", "code"},
	)

	NotificationsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_notifications_dropped_total",
			Help: "Notifications that could not be handed to the event bus",
		},
		[]string{"event"},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Messages delivered by the notify bridge",
		},
		[]string{"channel", "status"}, // status: success, failed
	)

	GatewayCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_gateway_call_duration_seconds",
			Help:    "Payment gateway call latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"method", "route", "status"},
	)
)

func RecordEscrowTransition(from, to string) {
	EscrowTransitions.WithLabelValues(from, to).Inc()
}

func RecordMilestoneOutcome(milestoneType, status string) {
	MilestoneOutcomes.WithLabelValues(milestoneType, status).Inc()
}

func RecordRejection(operation, code string) {
	LifecycleRejections.WithLabelValues(operation, code).Inc()
}

func IncrementNotificationDropped(event string) {
	NotificationsDropped.WithLabelValues(event).Inc()
}

func IncrementNotificationSent(channel, status string) {
	NotificationsSent.WithLabelValues(channel, status).Inc()
}

func RecordGatewayCall(endpoint, status string, duration time.Duration) {
	GatewayCallLatency.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

func RecordHTTPRequestDuration(method, route, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}
