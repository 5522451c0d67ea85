// Package progress tracks how far a migration run has come and reports it on a
// fixed cadence that is independent of the poll cadence.
package progress

import (
	"context"
	"sync"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/samber/lo"
)

// Snapshot is the run status at one point in time.
type Snapshot struct {
	RunID     string `json:"run_id,omitempty"`
	Completed int    `json:"completed"`
	Total     int    `json:"total"`

	// HighestProgress is the largest fraction processed among the tasks polled in the last sweep.
	HighestProgress float64 `json:"highest_progress"`

	Elapsed  time.Duration `json:"elapsed_ns"`
	InFlight int           `json:"in_flight"`
	Backlog  int           `json:"backlog"`
	Failed   int           `json:"failed"`
	Retries  int           `json:"retries"`
}

// Percent returns HighestProgress as a percentage.
func (s Snapshot) Percent() float64 {
	return s.HighestProgress * 100
}

// Highest returns the largest progress among stats, or 0 when stats is empty.
func Highest(stats []orchestrator.TaskStats) float64 {
	return lo.Reduce(stats, func(acc float64, s orchestrator.TaskStats, _ int) float64 {
		return max(acc, s.Progress())
	}, 0)
}

// Config holds configuration for the Reporter.
type Config struct {
	// Interval is the minimum time between two STATUS lines (default: 5m).
	Interval time.Duration

	// Logger receives STATUS lines (optional).
	Logger logging.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Reporter keeps the latest Snapshot and logs it at most once per Interval.
// Observe and MaybeEmit are called by the scheduling loop; Latest and Status may
// be called from any goroutine.
type Reporter struct {
	config Config

	mu       sync.RWMutex
	started  time.Time
	lastEmit time.Time
	latest   Snapshot
}

// New creates a Reporter. The clock starts immediately.
func New(cfg Config) *Reporter {
	if cfg.Interval == 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	now := cfg.Now()
	return &Reporter{
		config:   cfg,
		started:  now,
		lastEmit: now,
	}
}

// Restart resets the elapsed clock and the emit cadence.
func (r *Reporter) Restart() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.config.Now()
	r.started = now
	r.lastEmit = now
	r.latest = Snapshot{}
}

// Observe records s as the latest snapshot, filling in Elapsed.
func (r *Reporter) Observe(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s.Elapsed = r.config.Now().Sub(r.started)
	r.latest = s
}

// MaybeEmit logs the latest snapshot when more than Interval has passed since the
// previous STATUS line. It reports whether a line was logged.
func (r *Reporter) MaybeEmit(ctx context.Context) bool {
	r.mu.Lock()
	now := r.config.Now()
	if now.Sub(r.lastEmit) <= r.config.Interval {
		r.mu.Unlock()
		return false
	}
	r.lastEmit = now
	s := r.latest
	r.mu.Unlock()

	if r.config.Logger != nil {
		r.config.Logger.Info(ctx, "STATUS",
			"completed", s.Completed,
			"total", s.Total,
			"progress", s.Percent(),
			"elapsed", s.Elapsed.Round(time.Second).String(),
			"inFlight", s.InFlight,
			"backlog", s.Backlog,
			"failed", s.Failed,
			"retries", s.Retries)
	}
	return true
}

// Latest returns the most recent snapshot.
func (r *Reporter) Latest() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Status returns Latest for the status endpoint.
func (r *Reporter) Status() interface{} {
	return r.Latest()
}
