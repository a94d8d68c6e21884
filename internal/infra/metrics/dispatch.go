package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		outcomeDispatchTotal,
		outcomeEventsTotal,
		paymentDMTotal,
	)
}

var (
	// task: audit|event|dm ; status: ok|error|dropped
	outcomeDispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outcome_dispatch_tasks_total",
			Help: "Post-resolution side effects by task and status.",
		},
		[]string{"task", "status"},
	)

	outcomeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_outcome_events_total",
			Help: "Outcome events published to the message bus by result.",
		},
		[]string{"result"},
	)

	// kind: success|failure|refunded ; status: sent|error|no_user
	paymentDMTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_dm_total",
			Help: "Telegram DMs about payment outcomes by kind and delivery status.",
		},
		[]string{"kind", "status"},
	)
)

func IncDispatch(task, status string) {
	outcomeDispatchTotal.WithLabelValues(norm(task), norm(status)).Inc()
}

func IncOutcomeEvent(result string) {
	outcomeEventsTotal.WithLabelValues(norm(result)).Inc()
}

func IncPaymentDM(kind, status string) {
	paymentDMTotal.WithLabelValues(norm(kind), norm(status)).Inc()
}
