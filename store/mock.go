package store

import (
	"context"
	"sync"

	"github.com/getpup/reindex-orchestrator"
)

// MockLedgerStore is a configurable mock implementation of LedgerStore
// for use in tests. It allows setting up expected return values, tracking method
// calls, and injecting errors for testing error paths.
type MockLedgerStore struct {
	mu sync.RWMutex

	// CreateRunFunc is called by CreateRun if set.
	CreateRunFunc func(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error)

	// GetRunFunc is called by GetRun if set.
	GetRunFunc func(ctx context.Context, runID string) (orchestrator.Run, error)

	// UpdateRunStateFunc is called by UpdateRunState if set.
	UpdateRunStateFunc func(ctx context.Context, runID string, state orchestrator.RunState) error

	// HeartbeatFunc is called by Heartbeat if set.
	HeartbeatFunc func(ctx context.Context, runID string) error

	// GetActiveRunsFunc is called by GetActiveRuns if set.
	GetActiveRunsFunc func(ctx context.Context, job string) ([]orchestrator.Run, error)

	// MarkRunAbandonedFunc is called by MarkRunAbandoned if set.
	MarkRunAbandonedFunc func(ctx context.Context, runID string) error

	// RecordUnitFunc is called by RecordUnit if set.
	RecordUnitFunc func(ctx context.Context, record orchestrator.UnitRecord) error

	// ListUnitsFunc is called by ListUnits if set.
	ListUnitsFunc func(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error)

	// CompletedTargetsFunc is called by CompletedTargets if set.
	CompletedTargetsFunc func(ctx context.Context, job string) ([]string, error)

	// Call tracking
	CreateRunCalls        []CreateRunCall
	GetRunCalls           []string
	UpdateRunStateCalls   []UpdateRunStateCall
	HeartbeatCalls        []string
	GetActiveRunsCalls    []string
	MarkRunAbandonedCalls []string
	RecordUnitCalls       []orchestrator.UnitRecord
	ListUnitsCalls        []string
	CompletedTargetsCalls []string
}

// Call tracking structs
type CreateRunCall struct {
	Job        string
	TotalUnits int
}

type UpdateRunStateCall struct {
	RunID string
	State orchestrator.RunState
}

// NewMockLedgerStore creates a new mock ledger store.
func NewMockLedgerStore() *MockLedgerStore {
	return &MockLedgerStore{}
}

// CreateRun implements LedgerStore.
func (m *MockLedgerStore) CreateRun(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error) {
	m.mu.Lock()
	m.CreateRunCalls = append(m.CreateRunCalls, CreateRunCall{Job: job, TotalUnits: totalUnits})
	m.mu.Unlock()

	if m.CreateRunFunc != nil {
		return m.CreateRunFunc(ctx, job, totalUnits)
	}

	return orchestrator.Run{ID: "mock-run", Job: job, State: orchestrator.RunStateRunning, TotalUnits: totalUnits}, nil
}

// GetRun implements LedgerStore.
func (m *MockLedgerStore) GetRun(ctx context.Context, runID string) (orchestrator.Run, error) {
	m.mu.Lock()
	m.GetRunCalls = append(m.GetRunCalls, runID)
	m.mu.Unlock()

	if m.GetRunFunc != nil {
		return m.GetRunFunc(ctx, runID)
	}

	return orchestrator.Run{}, orchestrator.ErrRunNotFound
}

// UpdateRunState implements LedgerStore.
func (m *MockLedgerStore) UpdateRunState(ctx context.Context, runID string, state orchestrator.RunState) error {
	m.mu.Lock()
	m.UpdateRunStateCalls = append(m.UpdateRunStateCalls, UpdateRunStateCall{RunID: runID, State: state})
	m.mu.Unlock()

	if m.UpdateRunStateFunc != nil {
		return m.UpdateRunStateFunc(ctx, runID, state)
	}

	return nil
}

// Heartbeat implements LedgerStore.
func (m *MockLedgerStore) Heartbeat(ctx context.Context, runID string) error {
	m.mu.Lock()
	m.HeartbeatCalls = append(m.HeartbeatCalls, runID)
	m.mu.Unlock()

	if m.HeartbeatFunc != nil {
		return m.HeartbeatFunc(ctx, runID)
	}

	return nil
}

// GetActiveRuns implements LedgerStore.
func (m *MockLedgerStore) GetActiveRuns(ctx context.Context, job string) ([]orchestrator.Run, error) {
	m.mu.Lock()
	m.GetActiveRunsCalls = append(m.GetActiveRunsCalls, job)
	m.mu.Unlock()

	if m.GetActiveRunsFunc != nil {
		return m.GetActiveRunsFunc(ctx, job)
	}

	return []orchestrator.Run{}, nil
}

// MarkRunAbandoned implements LedgerStore.
func (m *MockLedgerStore) MarkRunAbandoned(ctx context.Context, runID string) error {
	m.mu.Lock()
	m.MarkRunAbandonedCalls = append(m.MarkRunAbandonedCalls, runID)
	m.mu.Unlock()

	if m.MarkRunAbandonedFunc != nil {
		return m.MarkRunAbandonedFunc(ctx, runID)
	}

	return nil
}

// RecordUnit implements LedgerStore.
func (m *MockLedgerStore) RecordUnit(ctx context.Context, record orchestrator.UnitRecord) error {
	m.mu.Lock()
	m.RecordUnitCalls = append(m.RecordUnitCalls, record)
	m.mu.Unlock()

	if m.RecordUnitFunc != nil {
		return m.RecordUnitFunc(ctx, record)
	}

	return nil
}

// ListUnits implements LedgerStore.
func (m *MockLedgerStore) ListUnits(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error) {
	m.mu.Lock()
	m.ListUnitsCalls = append(m.ListUnitsCalls, runID)
	m.mu.Unlock()

	if m.ListUnitsFunc != nil {
		return m.ListUnitsFunc(ctx, runID)
	}

	return []orchestrator.UnitRecord{}, nil
}

// CompletedTargets implements LedgerStore.
func (m *MockLedgerStore) CompletedTargets(ctx context.Context, job string) ([]string, error) {
	m.mu.Lock()
	m.CompletedTargetsCalls = append(m.CompletedTargetsCalls, job)
	m.mu.Unlock()

	if m.CompletedTargetsFunc != nil {
		return m.CompletedTargetsFunc(ctx, job)
	}

	return []string{}, nil
}

// RecordedEvents returns the events passed to RecordUnit, in call order.
func (m *MockLedgerStore) RecordedEvents() []orchestrator.UnitEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]orchestrator.UnitEvent, len(m.RecordUnitCalls))
	for i, r := range m.RecordUnitCalls {
		events[i] = r.Event
	}
	return events
}

// Reset clears all call tracking data.
func (m *MockLedgerStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateRunCalls = nil
	m.GetRunCalls = nil
	m.UpdateRunStateCalls = nil
	m.HeartbeatCalls = nil
	m.GetActiveRunsCalls = nil
	m.MarkRunAbandonedCalls = nil
	m.RecordUnitCalls = nil
	m.ListUnitsCalls = nil
	m.CompletedTargetsCalls = nil
}
