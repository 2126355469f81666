package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SessionsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_sessions_created_total",
			Help: "Number of checkout sessions created",
		},
	)

	SettlementsCompleted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_settlements_completed_total",
			Help: "Number of sessions settled",
		},
	)

	SettlementsDuplicate = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_settlements_duplicate_total",
			Help: "Number of settlement attempts short-circuited by the idempotency guard",
		},
	)

	SettlementsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_settlements_failed_total",
			Help: "Number of settlement attempts rolled back",
		},
	)

	SettlementDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "checkout_settlement_duration_seconds",
			Help: "Time taken by the settlement transaction",
		},
	)

	NotificationsPublished = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_notifications_published_total",
			Help: "Number of settlement events published to the bus",
		},
	)

	NotificationsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "checkout_notifications_dropped_total",
			Help: "Number of settlement events dropped (full queue or exhausted retries)",
		},
	)
)

func Register() {
	prometheus.MustRegister(
		SessionsCreated,
		SettlementsCompleted,
		SettlementsDuplicate,
		SettlementsFailed,
		SettlementDuration,
		NotificationsPublished,
		NotificationsDropped,
	)
}
