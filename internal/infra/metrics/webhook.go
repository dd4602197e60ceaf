package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookRequestsTotal,
		webhookDuration,
		reconcileTotal,
	)
}

var (
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_requests_total",
			Help:      "Stripe webhook deliveries by event type and response status.",
		},
		[]string{"event_type", "status"},
	)

	webhookDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "webhook_duration_seconds",
			Help:      "Time spent handling a Stripe webhook delivery.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event_type"},
	)

	reconcileTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_total",
			Help:      "Reconciled billing events by type and outcome (applied/stale/ignored/missing_user/...).",
		},
		[]string{"event_type", "outcome"},
	)
)

// ObserveWebhook records one delivery. An empty event type means the payload
// never got past verification.
func ObserveWebhook(eventType string, status int, d time.Duration) {
	et := norm(eventType)
	webhookRequestsTotal.WithLabelValues(et, strconv.Itoa(status)).Inc()
	webhookDuration.WithLabelValues(et).Observe(d.Seconds())
}

func IncReconcile(eventType, outcome string) {
	reconcileTotal.WithLabelValues(norm(eventType), norm(outcome)).Inc()
}
