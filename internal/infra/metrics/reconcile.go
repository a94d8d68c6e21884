package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		reconciliationsTotal,
		reconcileAttempts,
		reconcileDuration,
		statusPollsTotal,
		channelEventsTotal,
		channelConnectsTotal,
		activeSessions,
		confirmedAmountTotal,
	)
}

var (
	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_reconciliations_total",
			Help: "Resolved reconciliation sessions by subject kind, outcome and reason.",
		},
		[]string{"kind", "outcome", "reason"},
	)

	reconcileAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_reconcile_attempts",
			Help:    "Status polls made before a session resolved.",
			Buckets: []float64{1, 2, 3, 5, 10, 20, 60, 120},
		},
		[]string{"outcome"},
	)

	reconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payment_reconcile_duration_seconds",
			Help:    "Time from session start to resolution.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 600},
		},
		[]string{"outcome", "source"},
	)

	// result: pending|terminal|error
	statusPollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_status_polls_total",
			Help: "Payment status polls by result.",
		},
		[]string{"result"},
	)

	channelEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_channel_events_total",
			Help: "Push events received per channel namespace.",
		},
		[]string{"kind", "event"},
	)

	// result: ok|error
	channelConnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_channel_connects_total",
			Help: "Websocket dials per channel namespace by result.",
		},
		[]string{"kind", "result"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payment_reconcile_active_sessions",
			Help: "Reconciliation sessions currently running.",
		},
	)

	confirmedAmountTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_confirmed_amount_kopecks_total",
			Help: "Sum of amounts of payments confirmed as paid, by subject kind.",
		},
		[]string{"kind"},
	)
)

func ObserveOutcome(kind, outcome, reason, source string, attempts int, took time.Duration) {
	reconciliationsTotal.WithLabelValues(norm(kind), norm(outcome), norm(reason)).Inc()
	reconcileAttempts.WithLabelValues(norm(outcome)).Observe(float64(attempts))
	reconcileDuration.WithLabelValues(norm(outcome), norm(source)).Observe(took.Seconds())
}

func IncStatusPoll(result string) {
	statusPollsTotal.WithLabelValues(norm(result)).Inc()
}

func IncChannelEvent(kind, event string) {
	channelEventsTotal.WithLabelValues(norm(kind), norm(event)).Inc()
}

func IncChannelConnect(kind, result string) {
	channelConnectsTotal.WithLabelValues(norm(kind), norm(result)).Inc()
}

func SessionStarted() { activeSessions.Inc() }
func SessionEnded()   { activeSessions.Dec() }

func AddConfirmedAmount(kind string, amount int64) {
	if amount > 0 {
		confirmedAmountTotal.WithLabelValues(norm(kind)).Add(float64(amount))
	}
}
