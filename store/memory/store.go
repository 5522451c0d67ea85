package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/google/uuid"
)

// Store is an in-memory implementation of LedgerStore for tests and single-shot runs.
// It provides thread-safe access to run and unit data using a sync.RWMutex.
type Store struct {
	mu    sync.RWMutex
	runs  map[string]orchestrator.Run          // runID -> run
	units map[string][]orchestrator.UnitRecord // runID -> records in insertion order
}

// Compile-time check that Store implements store.LedgerStore.
var _ store.LedgerStore = (*Store)(nil)

// New creates a new in-memory store with initialized maps.
func New() *Store {
	return &Store{
		runs:  make(map[string]orchestrator.Run),
		units: make(map[string][]orchestrator.UnitRecord),
	}
}

// CreateRun records a new run of job in the Running state.
func (s *Store) CreateRun(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	run := orchestrator.Run{
		ID:            uuid.New().String(),
		Job:           job,
		State:         orchestrator.RunStateRunning,
		TotalUnits:    totalUnits,
		StartedAt:     now,
		LastHeartbeat: now,
	}
	s.runs[run.ID] = run

	return run, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return orchestrator.Run{}, orchestrator.ErrRunNotFound
	}

	return run, nil
}

// UpdateRunState moves a run to state.
func (s *Store) UpdateRunState(ctx context.Context, runID string, state orchestrator.RunState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return orchestrator.ErrRunNotFound
	}
	if run.State.Terminal() {
		return store.ErrRunClosed
	}

	run.State = state
	if state.Terminal() {
		run.FinishedAt = time.Now()
	}
	s.runs[runID] = run

	return nil
}

// Heartbeat updates the last heartbeat time for a run.
func (s *Store) Heartbeat(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return orchestrator.ErrRunNotFound
	}
	if run.State.Terminal() {
		return store.ErrRunClosed
	}

	run.LastHeartbeat = time.Now()
	s.runs[runID] = run

	return nil
}

// GetActiveRuns returns all non-terminal runs of job, oldest first.
func (s *Store) GetActiveRuns(ctx context.Context, job string) ([]orchestrator.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := []orchestrator.Run{}
	for _, run := range s.runs {
		if run.Job == job && !run.State.Terminal() {
			runs = append(runs, run)
		}
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.Before(runs[j].StartedAt) })

	return runs, nil
}

// MarkRunAbandoned marks a run as abandoned.
func (s *Store) MarkRunAbandoned(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return orchestrator.ErrRunNotFound
	}

	run.State = orchestrator.RunStateAbandoned
	run.FinishedAt = time.Now()
	s.runs[runID] = run

	return nil
}

// RecordUnit appends a unit event. RecordedAt defaults to now.
func (s *Store) RecordUnit(ctx context.Context, record orchestrator.UnitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[record.RunID]; !ok {
		return store.ErrUnknownRun
	}
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}
	s.units[record.RunID] = append(s.units[record.RunID], record)

	return nil
}

// ListUnits returns the unit events of a run in insertion order.
func (s *Store) ListUnits(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]orchestrator.UnitRecord, len(s.units[runID]))
	copy(records, s.units[runID])

	return records, nil
}

// CompletedTargets returns the distinct targets completed by any run of job, sorted.
func (s *Store) CompletedTargets(ctx context.Context, job string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := mapset.NewThreadUnsafeSet[string]()
	for runID, records := range s.units {
		if s.runs[runID].Job != job {
			continue
		}
		for _, r := range records {
			if r.Event == orchestrator.UnitEventCompleted {
				targets.Add(r.Target)
			}
		}
	}

	out := targets.ToSlice()
	sort.Strings(out)
	return out, nil
}
