package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcomes recorded for order transitions.
const (
	OutcomeApplied  = "applied"
	OutcomeAlready  = "already"
	OutcomeRejected = "rejected"
	OutcomeConflict = "conflict"
	OutcomeError    = "error"
	OutcomeSkipped  = "skipped"
)

var (
	// orderTransitions counts transition requests by action and outcome.
	orderTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_order_transitions_total",
			Help: "Order transition requests by action and outcome.",
		},
		[]string{"action", "outcome"},
	)

	ordersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loyalty_orders_created_total",
			Help: "Orders accepted into the pending queue.",
		},
	)

	// ledgerPostings counts ledger entries by direction and reason.
	ledgerPostings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_ledger_postings_total",
			Help: "Ledger entries written by direction and reason.",
		},
		[]string{"direction", "reason"},
	)

	ledgerPoints = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_ledger_points_total",
			Help: "Points moved through the ledger by direction.",
		},
		[]string{"direction"},
	)

	redemptions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_redemptions_total",
			Help: "Redemption operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// notifications counts staff-channel deliveries. Failures never reach
	// callers, so this is the only place they surface besides logs.
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loyalty_staff_notifications_total",
			Help: "Staff channel sends and edits by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(orderTransitions, ordersCreated, ledgerPostings, ledgerPoints, redemptions, notifications)
}

// ObserveTransition records one transition request.
func ObserveTransition(action, outcome string) {
	orderTransitions.WithLabelValues(action, outcome).Inc()
}

// ObserveOrderCreated records an accepted order.
func ObserveOrderCreated() { ordersCreated.Inc() }

// ObserveLedgerPosting records a ledger entry of amount points.
func ObserveLedgerPosting(direction, reason string, amount int64) {
	ledgerPostings.WithLabelValues(direction, reason).Inc()
	ledgerPoints.WithLabelValues(direction).Add(float64(amount))
}

// ObserveRedemption records a redeem/confirm/cancel attempt.
func ObserveRedemption(op, outcome string) {
	redemptions.WithLabelValues(op, outcome).Inc()
}

// ObserveNotification records a staff-channel send or edit.
func ObserveNotification(kind, outcome string) {
	notifications.WithLabelValues(kind, outcome).Inc()
}
