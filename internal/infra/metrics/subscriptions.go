package metrics

import (
	"bookbrief-billing/internal/domain/model"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		subscriptionsResyncedTotal,
		subscriptionsTotal,
	)
}

var (
	subscriptionsResyncedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriptions_resynced_total",
			Help:      "Subscriptions refreshed from the provider by the sync worker.",
		},
		[]string{"result"},
	)

	subscriptionsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions_total",
			Help:      "Current number of subscriptions by status.",
		},
		[]string{"status"},
	)
)

func IncSubscriptionsResynced(result string) {
	subscriptionsResyncedTotal.WithLabelValues(norm(result)).Inc()
}

// SetSubscriptionsTotal sets every known status; missing ones read as zero.
func SetSubscriptionsTotal(counts map[model.SubscriptionStatus]int) {
	statuses := append([]model.SubscriptionStatus{}, model.LiveStatuses...)
	statuses = append(statuses, model.SubscriptionStatusCanceled)
	for _, status := range statuses {
		subscriptionsTotal.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
