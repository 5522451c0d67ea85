package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/getpup/reindex-orchestrator/store"
)

// Config holds configuration for the lifecycle Manager.
type Config struct {
	// Store is the run ledger (required).
	Store store.LedgerStore

	// HeartbeatInterval is the interval between heartbeats (default: 5s).
	HeartbeatInterval time.Duration

	// Logger is for observability (optional).
	Logger logging.Logger
}

// Manager manages heartbeating and state transitions for a single migration run.
type Manager struct {
	config Config
	runID  string
}

// New creates a new lifecycle Manager with the given configuration.
// Applies default values for HeartbeatInterval if not set.
func New(cfg Config) *Manager {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}

	return &Manager{
		config: cfg,
	}
}

// Register records a new run of job with totalUnits units.
// Stores the returned run ID in the manager and returns it.
func (m *Manager) Register(ctx context.Context, job string, totalUnits int) (string, error) {
	run, err := m.config.Store.CreateRun(ctx, job, totalUnits)
	if err != nil {
		return "", err
	}

	m.runID = run.ID

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "run registered", "runID", run.ID, "job", job, "units", totalUnits)
	}

	return run.ID, nil
}

// StartHeartbeat runs a heartbeat loop until the context is cancelled.
// Failed heartbeats are logged and retried on the next tick. The loop returns an
// error only when the ledger no longer accepts heartbeats for the run: it was
// closed (for example marked abandoned by another process) or it is unknown.
func (m *Manager) StartHeartbeat(ctx context.Context) error {
	ticker := time.NewTicker(m.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.config.Store.Heartbeat(ctx, m.runID); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				if errors.Is(err, store.ErrRunClosed) || errors.Is(err, orchestrator.ErrRunNotFound) {
					if m.config.Logger != nil {
						m.config.Logger.Error(ctx, "heartbeat rejected", "runID", m.runID, "error", err)
					}
					return err
				}
				if m.config.Logger != nil {
					m.config.Logger.Warn(ctx, "heartbeat failed", "runID", m.runID, "error", err)
				}
				continue
			}

			if m.config.Logger != nil {
				m.config.Logger.Debug(ctx, "heartbeat sent", "runID", m.runID)
			}
		}
	}
}

// UpdateState updates the run's state and logs the transition if a logger is provided.
func (m *Manager) UpdateState(ctx context.Context, state orchestrator.RunState) error {
	if err := m.config.Store.UpdateRunState(ctx, m.runID, state); err != nil {
		return err
	}

	if m.config.Logger != nil {
		m.config.Logger.Info(ctx, "run state updated", "runID", m.runID, "state", state)
	}

	return nil
}

// GetRun returns the current run from the store.
func (m *Manager) GetRun(ctx context.Context) (orchestrator.Run, error) {
	return m.config.Store.GetRun(ctx, m.runID)
}

// RunID returns the stored run ID.
func (m *Manager) RunID() string {
	return m.runID
}
