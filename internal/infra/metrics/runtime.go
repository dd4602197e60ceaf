package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		buildInfo,
		dbPoolStats,
		cacheRequestsTotal,
	)
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Always 1; labels carry the running version and commit.",
		},
		[]string{"version", "commit"},
	)

	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_pool_stats",
			Help:      "Connections held by the record store pool.",
		},
		[]string{"driver", "state"}, // state: total, idle, in_use
	)

	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Read-through cache lookups by cache and result.",
		},
		[]string{"cache", "result"},
	)
)

func SetBuildInfo(version, commit string) {
	if version == "" {
		version = "dev"
	}
	if commit == "" {
		commit = "none"
	}
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// SetDBPoolStats publishes one sample of the pool for the given driver.
func SetDBPoolStats(driver string, total, idle, inUse int) {
	d := norm(driver)
	dbPoolStats.WithLabelValues(d, "total").Set(float64(total))
	dbPoolStats.WithLabelValues(d, "idle").Set(float64(idle))
	dbPoolStats.WithLabelValues(d, "in_use").Set(float64(inUse))
}

// IncCacheRequest counts one lookup; result is "hit" or "miss".
func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}
