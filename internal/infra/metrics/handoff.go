package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(handoffOperationsTotal) }

var handoffOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "handoff_operations_total",
		Help: "Payment handoff saves and consumes by result.",
	},
	[]string{"op", "result"}, // op="consume", result="hit"|"miss"|"error"
)

func IncHandoff(op, result string) {
	handoffOperationsTotal.WithLabelValues(norm(op), norm(result)).Inc()
}
