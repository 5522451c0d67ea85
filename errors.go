package orchestrator

import "errors"

var (
	// ErrTaskNotFound indicates the remote cluster has no record of the task handle.
	ErrTaskNotFound = errors.New("task not found")

	// ErrThrottled indicates the remote cluster rejected a request because it is busy.
	// The request can be repeated after a short delay.
	ErrThrottled = errors.New("remote cluster throttled the request")

	// ErrSourceNotConfigured indicates the source connection is missing.
	// The job refuses to start without it.
	ErrSourceNotConfigured = errors.New("source connection not configured")

	// ErrRunInProgress indicates another live run of the same job holds the ledger.
	ErrRunInProgress = errors.New("migration run already in progress")

	// ErrRunNotFound indicates the specified run does not exist in the ledger.
	ErrRunNotFound = errors.New("run not found")

	// ErrSubmissionFailed indicates the remote cluster did not accept a task.
	// It is recorded on the unit and handled like any other task failure.
	ErrSubmissionFailed = errors.New("task submission failed")
)
