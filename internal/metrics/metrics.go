// Package metrics holds the Prometheus collectors shared by the server and
// the guest engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueLength = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tq_queue_length",
			Help: "Waiting entries per restaurant",
		},
		[]string{"restaurant_id"},
	)

	EntryTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tq_entry_transitions_total",
			Help: "Accepted waitlist entry writes by resulting status",
		},
		[]string{"status"},
	)

	WriteConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tq_write_conflicts_total",
			Help: "Conditional writes rejected because the row was not in the required state",
		},
		[]string{"operation"},
	)

	SessionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tq_session_outcomes_total",
			Help: "Group order start attempts by outcome",
		},
		[]string{"outcome"},
	)

	FeedDeltas = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tq_feed_deltas_total",
			Help: "Change feed deltas handled by the reconciler",
		},
		[]string{"kind", "result"},
	)

	FeedDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tq_feed_dropped_total",
			Help: "Change feed messages dropped because the subscriber was not keeping up",
		},
	)

	Resyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tq_resyncs_total",
			Help: "Full reconciler resyncs",
		},
		[]string{"result"},
	)

	Watchers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tq_watchers",
			Help: "Guest devices actively watching a restaurant's line",
		},
		[]string{"restaurant_id"},
	)
)

// Delta results.
const (
	ResultApplied   = "applied"
	ResultIgnored   = "ignored"
	ResultMalformed = "malformed"
	ResultFailed    = "failed"
)

// Resync results.
const (
	ResyncOK      = "ok"
	ResyncPartial = "partial"
)
