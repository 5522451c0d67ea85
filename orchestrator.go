package orchestrator

import (
	"context"
)

// Migrator drives a bulk migration to completion.
type Migrator interface {
	// Run submits every unit, polls until each one is completed or has failed, then
	// finalizes the migration. It blocks until all units are accounted for.
	//
	// The migrator will:
	// 1. Invalidate the alias cache
	// 2. Submit units while fewer than MaxConcurrency tasks are in flight
	// 3. Poll in-flight tasks, retrying failed units until MaxAttempts is reached
	// 4. Report progress on a fixed cadence
	// 5. Audit target counts, log a summary and update aliases
	//
	// Run returns an error only for start-up failures, finalization failures or
	// context cancellation. Failed units are reported in the Summary, not as an error.
	Run(ctx context.Context) (Summary, error)
}

// AliasMaintainer repoints read and write aliases to the freshly populated indices.
type AliasMaintainer interface {
	MaintainAliases(ctx context.Context) error
}

// CacheInvalidator clears a routing cache.
type CacheInvalidator interface {
	RemoveAll(ctx context.Context) error
}
