// Package services – engine metrics.
//
// Prometheus counters for the state-machine hot spots. HTTP-level metrics
// live in the middleware; these count domain outcomes, most importantly the
// two race-resolution points (capacity conflicts on approval and lost
// take() attempts) so contention is visible on a dashboard before users
// complain about 409s.
package services

import "github.com/prometheus/client_golang/prometheus"

var (
	// approvalsTotal counts successfully committed approvals.
	approvalsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aid_fulfillment_approvals_total",
		Help: "Total number of fulfillment proposals approved.",
	})

	// capacityConflictsTotal counts approvals rejected because another
	// approval consumed the remaining capacity first.
	capacityConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aid_capacity_conflicts_total",
		Help: "Approvals rejected for insufficient remaining capacity.",
	})

	// deliveriesTakenTotal counts won take() compare-and-sets.
	deliveriesTakenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aid_deliveries_taken_total",
		Help: "Deliveries successfully taken by a courier.",
	})

	// deliveryTakeConflictsTotal counts lost take() races.
	deliveryTakeConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aid_delivery_take_conflicts_total",
		Help: "take() attempts that lost the race for an available delivery.",
	})

	// requestsCompletedTotal counts requests reaching COMPLETED, by cause.
	requestsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aid_requests_completed_total",
		Help: "Help requests completed, labeled by cause (auto|manual).",
	}, []string{"cause"})
)

func init() {
	prometheus.MustRegister(
		approvalsTotal,
		capacityConflictsTotal,
		deliveriesTakenTotal,
		deliveryTakeConflictsTotal,
		requestsCompletedTotal,
	)
}
