package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		dbPoolStats,
		abandonedSessionsTotal,
		rateLimitedTotal,
	)
}

var (
	dbPoolStats = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "db_pool_stats",
			Help: "Current state of the audit database connection pool.",
		},
		[]string{"state"}, // 'total', 'idle', 'in_use'
	)

	// by: request|sweeper
	abandonedSessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconcile_abandoned_total",
			Help: "Audit rows closed as abandoned, by who closed them.",
		},
		[]string{"by"},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by route.",
		},
		[]string{"route"},
	)
)

func SetDBPoolStats(total, idle, inUse int32) {
	dbPoolStats.WithLabelValues("total").Set(float64(total))
	dbPoolStats.WithLabelValues("idle").Set(float64(idle))
	dbPoolStats.WithLabelValues("in_use").Set(float64(inUse))
}

func AddAbandoned(by string, n int) {
	if n > 0 {
		abandonedSessionsTotal.WithLabelValues(norm(by)).Add(float64(n))
	}
}

func IncRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(norm(route)).Inc()
}
