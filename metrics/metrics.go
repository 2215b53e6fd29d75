// Package metrics holds the Prometheus collectors for the freight sync engine.
// Collectors register on the default registry and are served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "freightsync"

// ─── Transactions ───────────────────────────────────────────────────────────

// TransactionsTotal counts coordinator runs by kind and outcome.
var TransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "transactions_total",
	Help:      "Coordinator runs by kind and terminal status.",
}, []string{"kind", "status"})

// TransactionDuration tracks how long a coordinator run takes end to end.
var TransactionDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "transaction_duration_seconds",
	Help:      "Coordinator run duration.",
	Buckets:   prometheus.DefBuckets,
}, []string{"kind"})

// PreconditionRejections counts resolver rejections by reason.
var PreconditionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "precondition_rejections_total",
	Help:      "Payment changes rejected by the resolver.",
}, []string{"reason"})

// PodAutoFixes counts compensating POD writes.
var PodAutoFixes = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "pod_autofix_total",
	Help:      "POD flags synthesized to unblock a balance change.",
})

// StoreFallbacks counts writes that fell back to the generic patch endpoint.
var StoreFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "store_fallbacks_total",
	Help:      "Dedicated endpoint failures that fell back to the generic patch.",
}, []string{"op"})

// PartialApplications counts runs whose derived status did not stick.
var PartialApplications = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "coordinator",
	Name:      "partial_applications_total",
	Help:      "Derived status mismatches detected after the final fetch.",
}, []string{"corrected"})

// ─── Events ─────────────────────────────────────────────────────────────────

// EventsEmitted counts bus emissions by event type.
var EventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "emitted_total",
	Help:      "Events emitted on the bus.",
}, []string{"type"})

// HandlerPanics counts subscriber panics recovered by the bus.
var HandlerPanics = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "events",
	Name:      "handler_panics_total",
	Help:      "Subscriber panics recovered during dispatch.",
}, []string{"type"})

// ─── Reconciliation ─────────────────────────────────────────────────────────

// CacheOverridesApplied counts cached values that won over the server value.
var CacheOverridesApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cache",
	Name:      "overrides_applied_total",
	Help:      "Cached payment overrides applied to fetched trips.",
}, []string{"field"})

// CacheOverridesAcknowledged counts overrides cleared after a fetch agreed.
var CacheOverridesAcknowledged = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cache",
	Name:      "overrides_acknowledged_total",
	Help:      "Cached payment overrides cleared after the server caught up.",
})

// AmountDriftDetected counts balance increases flagged for confirmation.
var AmountDriftDetected = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "cache",
	Name:      "amount_drift_detected_total",
	Help:      "Balance amount increases flagged for human confirmation.",
})

// ─── Poller ─────────────────────────────────────────────────────────────────

// PollDuration tracks one full fetch-and-reconcile cycle.
var PollDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Subsystem: "poller",
	Name:      "poll_duration_seconds",
	Help:      "Duration of one poll cycle.",
	Buckets:   prometheus.DefBuckets,
})

// PollErrors counts failed poll cycles.
var PollErrors = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Subsystem: "poller",
	Name:      "errors_total",
	Help:      "Poll cycles that failed to list trips.",
})

// TripsObserved is the number of trips seen in the last poll.
var TripsObserved = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "poller",
	Name:      "trips",
	Help:      "Trips returned by the last successful poll.",
})
