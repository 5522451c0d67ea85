package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// UnitsSubmittedTotal tracks the total number of reindex tasks submitted.
var UnitsSubmittedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_units_submitted_total",
		Help: "Total reindex tasks submitted",
	},
	[]string{"job"},
)

// UnitsCompletedTotal tracks the total number of units that completed.
var UnitsCompletedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_units_completed_total",
		Help: "Total units completed",
	},
	[]string{"job"},
)

// UnitsFailedTotal tracks the total number of units that exhausted their attempts.
var UnitsFailedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_units_failed_total",
		Help: "Total units failed",
	},
	[]string{"job"},
)

// RetriesTotal tracks the total number of units sent back to the queue.
var RetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_retries_total",
		Help: "Total units re-enqueued for another attempt",
	},
	[]string{"job"},
)

// PollErrorsTotal tracks failed polls and invalid task statuses.
var PollErrorsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_poll_errors_total",
		Help: "Total poll failures and invalid task statuses",
	},
	[]string{"job"},
)

// ThrottledTotal tracks polls rejected because the cluster was busy.
var ThrottledTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_throttled_total",
		Help: "Total polls throttled by the remote cluster",
	},
	[]string{"job"},
)

// TaskNotFoundTotal tracks polls for handles the cluster no longer knows.
var TaskNotFoundTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_task_not_found_total",
		Help: "Total polls for unknown task handles",
	},
	[]string{"job"},
)

// PrepareFailuresTotal tracks failed prepare actions.
var PrepareFailuresTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reindex_orchestrator_prepare_failures_total",
		Help: "Total prepare action failures",
	},
	[]string{"job"},
)

// InFlightTasks tracks the current number of in-flight tasks.
var InFlightTasks = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "reindex_orchestrator_in_flight_tasks",
		Help: "Current in-flight tasks",
	},
	[]string{"job"},
)

// BacklogUnits tracks the current number of queued units.
var BacklogUnits = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "reindex_orchestrator_backlog_units",
		Help: "Current units waiting for submission",
	},
	[]string{"job"},
)

// HighestProgress tracks the highest fractional progress among in-flight tasks.
var HighestProgress = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "reindex_orchestrator_highest_progress_ratio",
		Help: "Highest fractional progress among in-flight tasks (0-1)",
	},
	[]string{"job"},
)

// UnitDuration tracks remote running time of finished units.
var UnitDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "reindex_orchestrator_unit_duration_seconds",
		Help:    "Remote running time of finished units",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	},
	[]string{"job", "outcome"},
)
