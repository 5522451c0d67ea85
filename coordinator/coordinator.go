package coordinator

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/getpup/reindex-orchestrator/store"
)

// Config holds configuration for the Coordinator.
type Config struct {
	// Store is the run ledger (required).
	Store store.LedgerStore

	// StaleRunTimeout is the duration after which a silent run is considered dead (default: 30s).
	StaleRunTimeout time.Duration

	// Logger is for observability (optional).
	Logger logging.Logger

	now func() time.Time
}

// Coordinator guards a migration job against concurrent runs and tells a new
// run what earlier runs already finished.
type Coordinator struct {
	config Config
	job    string
}

// New creates a new Coordinator with the given configuration and job name.
// Applies default values for StaleRunTimeout if zero.
func New(cfg Config, job string) *Coordinator {
	if cfg.StaleRunTimeout == 0 {
		cfg.StaleRunTimeout = 30 * time.Second
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	return &Coordinator{
		config: cfg,
		job:    job,
	}
}

// CleanupStaleRuns identifies and marks stale runs as abandoned.
// A run is considered stale if its LastHeartbeat is older than StaleRunTimeout.
func (c *Coordinator) CleanupStaleRuns(ctx context.Context) error {
	activeRuns, err := c.config.Store.GetActiveRuns(ctx, c.job)
	if err != nil {
		return err
	}

	now := c.config.now()
	for _, r := range activeRuns {
		if now.Sub(r.LastHeartbeat) > c.config.StaleRunTimeout {
			if err := c.config.Store.MarkRunAbandoned(ctx, r.ID); err != nil {
				return err
			}

			if c.config.Logger != nil {
				c.config.Logger.Info(ctx, "marked stale run as abandoned",
					"runID", r.ID,
					"lastHeartbeat", r.LastHeartbeat,
					"staleDuration", now.Sub(r.LastHeartbeat))
			}
		}
	}

	return nil
}

// EnsureExclusive returns ErrRunInProgress if another live run of the job exists.
// Call CleanupStaleRuns first so crashed runs do not block forever.
func (c *Coordinator) EnsureExclusive(ctx context.Context) error {
	activeRuns, err := c.config.Store.GetActiveRuns(ctx, c.job)
	if err != nil {
		return err
	}

	now := c.config.now()
	for _, r := range activeRuns {
		if now.Sub(r.LastHeartbeat) <= c.config.StaleRunTimeout {
			return fmt.Errorf("%w: run %s started %s", orchestrator.ErrRunInProgress, r.ID, r.StartedAt.Format(time.RFC3339))
		}
	}

	return nil
}

// CompletedTargets returns the targets completed by earlier runs of the job.
func (c *Coordinator) CompletedTargets(ctx context.Context) (mapset.Set[string], error) {
	targets, err := c.config.Store.CompletedTargets(ctx, c.job)
	if err != nil {
		return nil, fmt.Errorf("failed to load completed targets: %w", err)
	}

	if c.config.Logger != nil {
		c.config.Logger.Info(ctx, "loaded completed targets", "job", c.job, "count", len(targets))
	}

	return mapset.NewSet(targets...), nil
}
