package store

import "errors"

var (
	// ErrRunClosed indicates the run already reached a terminal state.
	ErrRunClosed = errors.New("run already closed")

	// ErrUnknownRun indicates a unit record references a run the ledger does not know.
	ErrUnknownRun = errors.New("unit record references unknown run")
)
