package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/getpup/reindex-orchestrator"
)

// MockClient is a mock implementation of Client for testing.
type MockClient struct {
	mu sync.Mutex

	// SubmitFunc is called by Submit if set. Otherwise Submit returns sequential handles.
	SubmitFunc func(ctx context.Context, req Request) (orchestrator.TaskHandle, error)

	// PollStatusFunc is called by PollStatus if set. Otherwise tasks complete on the first poll.
	PollStatusFunc func(ctx context.Context, handle orchestrator.TaskHandle) (orchestrator.TaskStatus, error)

	// CountFunc is called by Count if set. Otherwise Count returns 0.
	CountFunc func(ctx context.Context, collection string) (int64, error)

	// Calls records every call in order as "submit", "poll" or "count".
	Calls []string

	SubmitCalls []Request
	PollCalls   []orchestrator.TaskHandle
	CountCalls  []string

	seq int
}

// Compile-time check that MockClient implements Client.
var _ Client = (*MockClient)(nil)

// NewMockClient creates a new MockClient with an empty call history.
func NewMockClient() *MockClient {
	return &MockClient{
		Calls:       make([]string, 0),
		SubmitCalls: make([]Request, 0),
		PollCalls:   make([]orchestrator.TaskHandle, 0),
		CountCalls:  make([]string, 0),
	}
}

// Submit implements the Client interface.
func (m *MockClient) Submit(ctx context.Context, req Request) (orchestrator.TaskHandle, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, "submit")
	m.SubmitCalls = append(m.SubmitCalls, req)
	m.seq++
	seq := m.seq
	fn := m.SubmitFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	return orchestrator.TaskHandle(fmt.Sprintf("node:%d", seq)), nil
}

// PollStatus implements the Client interface.
func (m *MockClient) PollStatus(ctx context.Context, handle orchestrator.TaskHandle) (orchestrator.TaskStatus, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, "poll")
	m.PollCalls = append(m.PollCalls, handle)
	fn := m.PollStatusFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, handle)
	}
	return orchestrator.TaskStatus{Completed: true}, nil
}

// Count implements the Client interface.
func (m *MockClient) Count(ctx context.Context, collection string) (int64, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, "count")
	m.CountCalls = append(m.CountCalls, collection)
	fn := m.CountFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, collection)
	}
	return 0, nil
}

// SubmitCount returns how many times Submit was called.
func (m *MockClient) SubmitCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SubmitCalls)
}

// Reset clears the call history.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = make([]string, 0)
	m.SubmitCalls = make([]Request, 0)
	m.PollCalls = make([]orchestrator.TaskHandle, 0)
	m.CountCalls = make([]string, 0)
}
