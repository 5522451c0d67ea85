package store

import (
	"context"

	"github.com/getpup/reindex-orchestrator"
)

// LedgerStore persists migration runs and what happened to their units.
// Implementations must be safe for concurrent access.
type LedgerStore interface {
	// CreateRun records a new run of job in the Running state.
	// Returns the newly created run.
	CreateRun(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error)

	// GetRun returns a run by ID.
	// Returns orchestrator.ErrRunNotFound if the run does not exist.
	GetRun(ctx context.Context, runID string) (orchestrator.Run, error)

	// UpdateRunState moves a run to state. FinishedAt is set when state is terminal.
	// Returns orchestrator.ErrRunNotFound if the run does not exist and ErrRunClosed
	// if the run already reached a terminal state.
	UpdateRunState(ctx context.Context, runID string, state orchestrator.RunState) error

	// Heartbeat updates the last heartbeat time for a run.
	// Returns orchestrator.ErrRunNotFound if the run does not exist and ErrRunClosed
	// if the run already reached a terminal state.
	Heartbeat(ctx context.Context, runID string) error

	// GetActiveRuns returns all runs of job that have not reached a terminal state.
	// Returns an empty slice if there are none.
	GetActiveRuns(ctx context.Context, job string) ([]orchestrator.Run, error)

	// MarkRunAbandoned marks a run whose process stopped heartbeating.
	// Returns orchestrator.ErrRunNotFound if the run does not exist.
	MarkRunAbandoned(ctx context.Context, runID string) error

	// RecordUnit appends a unit event to the ledger.
	RecordUnit(ctx context.Context, record orchestrator.UnitRecord) error

	// ListUnits returns the unit events of a run in the order they were recorded.
	ListUnits(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error)

	// CompletedTargets returns the distinct targets completed by any run of job.
	CompletedTargets(ctx context.Context, job string) ([]string, error)
}
