package orchestrator

import (
	"context"
	"time"
)

// TaskHandle identifies an asynchronous task running on the remote cluster.
// It is opaque: the orchestrator only compares handles and passes them back to the client.
type TaskHandle string

// String returns the handle as reported by the remote cluster.
func (h TaskHandle) String() string {
	return string(h)
}

// PrepareFunc creates whatever the target collection needs before data can be copied into it.
type PrepareFunc func(ctx context.Context) error

// WorkItem is one source to target migration unit awaiting or undergoing processing.
type WorkItem struct {
	// SourceCollection is the index to read from on the source cluster.
	SourceCollection string

	// SourceKind discriminates document types sharing one source index.
	SourceKind string

	// TargetCollection is the index to write to.
	TargetCollection string

	// DateField, when set, restricts the copy to documents whose DateField is at or after the cutoff
	// and orders the copy by that field. When empty the copy is ordered by id.
	DateField string

	// Attempts is the number of times this unit has been submitted.
	Attempts int

	// Prepare runs once before each submission (optional).
	Prepare PrepareFunc
}

// Key returns a stable identity for the unit used in logs and the ledger.
func (w WorkItem) Key() string {
	return w.SourceCollection + "/" + w.SourceKind + "->" + w.TargetCollection
}

// TaskStats are the cumulative counters reported by the remote cluster for a task.
type TaskStats struct {
	Created          int64
	Updated          int64
	Deleted          int64
	VersionConflicts int64
	Total            int64
}

// Processed returns the number of source documents the task has handled so far.
func (s TaskStats) Processed() int64 {
	return s.Created + s.Updated + s.Deleted + s.VersionConflicts
}

// Progress returns the fraction of documents processed, or 0 when the total is unknown.
func (s TaskStats) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Processed()) / float64(s.Total)
}

// TaskStatus is a point-in-time view of a remote task.
type TaskStatus struct {
	// Stats are the cumulative counters so far.
	Stats TaskStats

	// Completed reports whether the remote cluster considers the task finished.
	Completed bool

	// RunningTime is how long the task has been running on the remote side.
	RunningTime time.Duration

	// Failure is set when the remote cluster reports the task as erroneous.
	Failure error
}

// Valid reports whether the status carries no failure.
func (s TaskStatus) Valid() bool {
	return s.Failure == nil
}

// CompletedTask is the terminal record of a unit that finished successfully.
type CompletedTask struct {
	Handle      TaskHandle
	Item        WorkItem
	Stats       TaskStats
	RunningTime time.Duration
	Attempts    int
}

// FailedTask is the terminal record of a unit that exhausted its attempts.
type FailedTask struct {
	Handle      TaskHandle
	Item        WorkItem
	Stats       TaskStats
	RunningTime time.Duration
	Attempts    int
	Errors      []error
}

// Summary is the outcome of a migration run.
type Summary struct {
	// RunID identifies the run in the ledger. Empty when no ledger is configured.
	RunID string

	// Total is the number of units created at start-up.
	Total int

	Completed []CompletedTask
	Failed    []FailedTask

	// Retries counts re-enqueued units across the whole run.
	Retries int

	StartedAt  time.Time
	FinishedAt time.Time
}

// Succeeded reports whether every unit completed.
func (s Summary) Succeeded() bool {
	return len(s.Failed) == 0 && len(s.Completed) == s.Total
}

// RunState represents the lifecycle state of a migration run.
type RunState string

const (
	// RunStateRunning indicates the run is submitting and polling tasks.
	RunStateRunning RunState = "running"

	// RunStateFinalizing indicates the loop drained and the run is auditing and updating aliases.
	RunStateFinalizing RunState = "finalizing"

	// RunStateFinished indicates the run completed, with or without failed units.
	RunStateFinished RunState = "finished"

	// RunStateAborted indicates the run stopped early because of cancellation or a fatal error.
	RunStateAborted RunState = "aborted"

	// RunStateAbandoned indicates the run stopped heartbeating and was marked dead.
	RunStateAbandoned RunState = "abandoned"
)

// Terminal reports whether no further transitions are expected for the state.
func (s RunState) Terminal() bool {
	return s == RunStateFinished || s == RunStateAborted || s == RunStateAbandoned
}

// Run is a single execution of a migration job recorded in the ledger.
type Run struct {
	// ID is the unique identifier for this run (UUID).
	ID string

	// Job is the name of the migration job. Runs of the same job exclude each other.
	Job string

	// State is the current lifecycle state of the run.
	State RunState

	// TotalUnits is the number of units created at start-up.
	TotalUnits int

	// StartedAt is when this run started.
	StartedAt time.Time

	// LastHeartbeat is the last time this run reported liveness.
	LastHeartbeat time.Time

	// FinishedAt is set once the run reaches a terminal state.
	FinishedAt time.Time
}

// UnitEvent is the kind of ledger entry recorded for a unit.
type UnitEvent string

const (
	// UnitEventSubmitted is recorded each time a unit is submitted.
	UnitEventSubmitted UnitEvent = "submitted"

	// UnitEventRetried is recorded when a unit is sent back to the queue.
	UnitEventRetried UnitEvent = "retried"

	// UnitEventCompleted is recorded when a unit completes.
	UnitEventCompleted UnitEvent = "completed"

	// UnitEventFailed is recorded when a unit exhausts its attempts.
	UnitEventFailed UnitEvent = "failed"
)

// UnitRecord is a ledger entry describing something that happened to a unit.
type UnitRecord struct {
	RunID       string
	Event       UnitEvent
	Source      string
	Kind        string
	Target      string
	Handle      TaskHandle
	Attempts    int
	Stats       TaskStats
	RunningTime time.Duration
	Error       string
	RecordedAt  time.Time
}
