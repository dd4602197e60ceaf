package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(billingAPIRequestsTotal) }

var billingAPIRequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Billing API operations by result.",
	},
	[]string{"op", "result"}, // op="checkout", result="ok"|"rate_limited"|...
)

func IncBillingAPI(op, result string) {
	billingAPIRequestsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}
