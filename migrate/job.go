// Package migrate drives a bulk reindex to completion: it submits work items as
// remote tasks under a concurrency cap, polls them, retries failures and finally
// hands the outcome to the finalizer.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/coordinator"
	"github.com/getpup/reindex-orchestrator/finalize"
	"github.com/getpup/reindex-orchestrator/lifecycle"
	"github.com/getpup/reindex-orchestrator/logging"
	"github.com/getpup/reindex-orchestrator/metrics"
	"github.com/getpup/reindex-orchestrator/notify"
	"github.com/getpup/reindex-orchestrator/progress"
	"github.com/getpup/reindex-orchestrator/queue"
	"github.com/getpup/reindex-orchestrator/remote"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/samber/lo"
)

// Scheduling policy defaults.
const (
	DefaultMaxConcurrency = 5
	DefaultMaxAttempts    = 3
	DefaultMaxErrors      = 5
	DefaultThrottleDelay  = 1 * time.Second
	DefaultRetryBackoff   = 15 * time.Second
	DefaultPollInterval   = 5 * time.Second
	DefaultReportInterval = 5 * time.Minute
	DefaultJobName        = "reindex"
)

// Config holds configuration for a migration Job.
type Config struct {
	// Client submits and polls remote tasks (required).
	Client remote.Client

	// Items are the units to migrate, in submission order.
	Items []orchestrator.WorkItem

	// Cutoff bounds date-filtered copies to documents at or after it.
	Cutoff time.Time

	// Cache is invalidated once before the first submission (optional).
	Cache orchestrator.CacheInvalidator

	// Aliases are maintained after every unit is accounted for (optional).
	Aliases orchestrator.AliasMaintainer

	// Ledger records the run and every unit outcome (optional).
	// When set, runs of the same JobName exclude each other.
	Ledger store.LedgerStore

	// Publisher announces unit outcomes (default: notify.Nop).
	Publisher notify.Publisher

	// Reporter receives progress snapshots (optional, created when nil).
	Reporter *progress.Reporter

	// JobName labels metrics, ledger runs and events (default: "reindex").
	JobName string

	// MaxConcurrency is the maximum number of in-flight tasks (default: 5).
	MaxConcurrency int

	// MaxAttempts is the number of submissions after which a unit is failed (default: 3).
	MaxAttempts int

	// MaxErrors is the size of a task's error log that forces a retry-or-fail decision (default: 5).
	MaxErrors int

	// ThrottleDelay is the pause after a throttled poll (default: 1s).
	ThrottleDelay time.Duration

	// RetryBackoff is the pause after a unit is re-enqueued (default: 15s).
	RetryBackoff time.Duration

	// PollInterval is the pause between sweeps (default: 5s).
	PollInterval time.Duration

	// ReportInterval is the minimum time between STATUS lines (default: 5m).
	ReportInterval time.Duration

	// HeartbeatInterval is the interval between ledger heartbeats (default: 5s).
	HeartbeatInterval time.Duration

	// StaleRunTimeout is the duration after which a silent run is considered dead (default: 30s).
	StaleRunTimeout time.Duration

	// Logger is for observability (optional).
	Logger logging.Logger

	// MetricsEnabled enables Prometheus metrics collection (default: true).
	// Set to false explicitly to disable metrics.
	MetricsEnabled *bool

	// Sleep pauses for d or until ctx is done (default: a timer).
	Sleep func(ctx context.Context, d time.Duration) error

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Job is a single-owner scheduling loop. Queue, in-flight, completed and failed
// state belong to the goroutine calling Run.
type Job struct {
	config      Config
	lifecycle   *lifecycle.Manager
	coordinator *coordinator.Coordinator
	finalizer   *finalize.Finalizer
	reporter    *progress.Reporter
	collector   *metrics.Collector
}

// Compile-time check that Job implements orchestrator.Migrator.
var _ orchestrator.Migrator = (*Job)(nil)

// New creates a new Job with the given configuration.
// Applies default values for all policy fields if zero.
func New(cfg Config) *Job {
	if cfg.JobName == "" {
		cfg.JobName = DefaultJobName
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxErrors == 0 {
		cfg.MaxErrors = DefaultMaxErrors
	}
	if cfg.ThrottleDelay == 0 {
		cfg.ThrottleDelay = DefaultThrottleDelay
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ReportInterval == 0 {
		cfg.ReportInterval = DefaultReportInterval
	}
	if cfg.Publisher == nil {
		cfg.Publisher = notify.Nop()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	var collector *metrics.Collector
	metricsEnabled := true
	if cfg.MetricsEnabled != nil {
		metricsEnabled = *cfg.MetricsEnabled
	}
	if metricsEnabled {
		collector = metrics.NewCollector(cfg.JobName)
	}

	reporter := cfg.Reporter
	if reporter == nil {
		reporter = progress.New(progress.Config{
			Interval: cfg.ReportInterval,
			Logger:   cfg.Logger,
			Now:      cfg.Now,
		})
	}

	j := &Job{
		config:    cfg,
		reporter:  reporter,
		collector: collector,
		finalizer: finalize.New(finalize.Config{
			Counter: cfg.Client,
			Aliases: cfg.Aliases,
			Logger:  cfg.Logger,
			Now:     cfg.Now,
		}),
	}

	if cfg.Ledger != nil {
		j.lifecycle = lifecycle.New(lifecycle.Config{
			Store:             cfg.Ledger,
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            cfg.Logger,
		})
		j.coordinator = coordinator.New(coordinator.Config{
			Store:           cfg.Ledger,
			StaleRunTimeout: cfg.StaleRunTimeout,
			Logger:          cfg.Logger,
		}, cfg.JobName)
	}

	return j
}

// Reporter returns the progress reporter of the job.
func (j *Job) Reporter() *progress.Reporter {
	return j.reporter
}

// task is a unit that has been handed to the remote cluster, or failed to be.
type task struct {
	item   orchestrator.WorkItem
	handle orchestrator.TaskHandle
	status orchestrator.TaskStatus
	errors []error

	// startErr is a prepare or submission failure, decided on the next sweep.
	startErr error
}

// runState is owned by the goroutine executing Run.
type runState struct {
	runID     string
	total     int
	queue     *queue.Queue
	inFlight  []*task
	completed []orchestrator.CompletedTask
	failed    []orchestrator.FailedTask
	retries   int
	highest   float64
	startedAt time.Time

	heartbeat *heartbeat
}

// heartbeat tracks the goroutine keeping the run alive in the ledger.
// err is written before done is closed.
type heartbeat struct {
	done chan struct{}
	err  error
}

// lost returns the error that stopped the heartbeat, or nil while it is running.
func (h *heartbeat) lost() error {
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

func (s *runState) drained() bool {
	return len(s.inFlight) == 0 && s.queue.Len() == 0
}

func (s *runState) remove(t *task) {
	s.inFlight = lo.Without(s.inFlight, t)
}

func (s *runState) summary() orchestrator.Summary {
	return orchestrator.Summary{
		RunID:     s.runID,
		Total:     s.total,
		Completed: s.completed,
		Failed:    s.failed,
		Retries:   s.retries,
		StartedAt: s.startedAt,
	}
}

// Run migrates every configured unit and then finalizes the migration.
// Failed units are reported in the Summary. An error is returned only when the
// run cannot start, the context is cancelled, or finalization fails.
func (j *Job) Run(ctx context.Context) (orchestrator.Summary, error) {
	if j.config.Client == nil {
		return orchestrator.Summary{}, orchestrator.ErrSourceNotConfigured
	}

	// 1. Make sure no other live run of this job is writing the same targets
	if j.coordinator != nil {
		if err := j.coordinator.CleanupStaleRuns(ctx); err != nil {
			if j.config.Logger != nil {
				j.config.Logger.Error(ctx, "failed to cleanup stale runs", "error", err)
			}
		}
		if err := j.coordinator.EnsureExclusive(ctx); err != nil {
			return orchestrator.Summary{}, err
		}
	}

	// 2. Reset the alias cache before anything is submitted
	if j.config.Cache != nil {
		if err := j.config.Cache.RemoveAll(ctx); err != nil {
			return orchestrator.Summary{}, fmt.Errorf("failed to reset alias cache: %w", err)
		}
	}

	st := &runState{
		total:     len(j.config.Items),
		queue:     queue.New(j.config.Items...),
		startedAt: j.config.Now(),
	}

	// 3. Register the run and keep it alive
	if j.lifecycle != nil {
		runID, err := j.lifecycle.Register(ctx, j.config.JobName, st.total)
		if err != nil {
			return orchestrator.Summary{}, fmt.Errorf("failed to register run: %w", err)
		}
		st.runID = runID

		heartbeatCtx, cancelHeartbeat := context.WithCancel(ctx)
		hb := &heartbeat{done: make(chan struct{})}
		go func() {
			defer close(hb.done)
			hb.err = j.lifecycle.StartHeartbeat(heartbeatCtx)
		}()
		defer func() {
			cancelHeartbeat()
			<-hb.done
		}()
		st.heartbeat = hb
	}

	j.reporter.Restart()

	if j.config.Logger != nil {
		j.config.Logger.Info(ctx, "migration started",
			"job", j.config.JobName,
			"runID", st.runID,
			"units", st.total,
			"maxConcurrency", j.config.MaxConcurrency)
	}

	// 4. Schedule until every unit is completed or failed
	if err := j.loop(ctx, st); err != nil {
		j.setState(ctx, orchestrator.RunStateAborted)
		summary := st.summary()
		summary.FinishedAt = j.config.Now()
		return summary, err
	}

	// 5. Audit, summarize and republish aliases
	j.setState(ctx, orchestrator.RunStateFinalizing)
	summary := st.summary()
	err := j.finalizer.Finalize(ctx, summary)
	summary.FinishedAt = j.config.Now()

	if err != nil {
		j.setState(ctx, orchestrator.RunStateAborted)
		return summary, err
	}
	j.setState(ctx, orchestrator.RunStateFinished)

	j.publish(ctx, notify.Event{
		Type:  notify.EventRunFinished,
		RunID: summary.RunID,
		Error: lo.Ternary(summary.Succeeded(), "", fmt.Sprintf("%d of %d units failed", len(summary.Failed), summary.Total)),
	})

	return summary, nil
}

func (j *Job) loop(ctx context.Context, st *runState) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := st.heartbeat.lost(); err != nil {
			return fmt.Errorf("run %s is no longer held in the ledger: %w", st.runID, err)
		}
		if st.drained() {
			return nil
		}

		// Admission
		for len(st.inFlight) < j.config.MaxConcurrency {
			item, ok := st.queue.TryDequeue()
			if !ok {
				break
			}
			j.admit(ctx, st, item)
		}

		// Polling sweep
		if err := j.sweep(ctx, st); err != nil {
			return err
		}

		j.report(ctx, st)

		if st.drained() {
			return nil
		}
		if err := j.config.Sleep(ctx, j.config.PollInterval); err != nil {
			return err
		}
	}
}

// admit prepares and submits item. Failures are kept on the in-flight entry.
func (j *Job) admit(ctx context.Context, st *runState, item orchestrator.WorkItem) {
	t := &task{}

	if item.Prepare != nil {
		if err := item.Prepare(ctx); err != nil {
			t.startErr = fmt.Errorf("failed to prepare %s: %w", item.TargetCollection, err)
			if j.collector != nil {
				j.collector.IncPrepareFailures()
			}
		}
	}

	if t.startErr == nil {
		handle, err := j.config.Client.Submit(ctx, remote.NewRequest(item, j.config.Cutoff))
		if err != nil {
			t.startErr = fmt.Errorf("%w: %w", orchestrator.ErrSubmissionFailed, err)
		}
		t.handle = handle
	}

	item.Attempts++
	t.item = item
	st.inFlight = append(st.inFlight, t)

	if j.collector != nil {
		j.collector.IncSubmitted()
	}

	if j.config.Logger != nil {
		kv := []interface{}{
			"source", item.SourceCollection,
			"kind", item.SourceKind,
			"target", item.TargetCollection,
			"attempts", item.Attempts,
			"taskID", t.handle.String(),
		}
		if t.startErr != nil {
			j.config.Logger.Warn(ctx, "STARTED", append(kv, "error", t.startErr)...)
		} else {
			j.config.Logger.Info(ctx, "STARTED", kv...)
		}
	}

	j.record(ctx, st, orchestrator.UnitEventSubmitted, t, t.startErr)
}

// sweep polls every in-flight task once, in insertion order.
func (j *Job) sweep(ctx context.Context, st *runState) error {
	var polled []orchestrator.TaskStats

	for _, t := range append([]*task(nil), st.inFlight...) {
		if t.startErr != nil {
			j.appendError(t, t.startErr)
			if err := j.decide(ctx, st, t); err != nil {
				return err
			}
			continue
		}

		status, err := j.config.Client.PollStatus(ctx, t.handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		switch {
		case errors.Is(err, orchestrator.ErrThrottled):
			if j.collector != nil {
				j.collector.IncThrottled()
			}
			if j.config.Logger != nil {
				j.config.Logger.Debug(ctx, "task status throttled", "target", t.item.TargetCollection, "taskID", t.handle.String())
			}
			if err := j.config.Sleep(ctx, j.config.ThrottleDelay); err != nil {
				return err
			}

		case errors.Is(err, orchestrator.ErrTaskNotFound):
			if j.collector != nil {
				j.collector.IncTaskNotFound()
			}
			if j.config.Logger != nil {
				j.config.Logger.Info(ctx, "task not found", "target", t.item.TargetCollection, "taskID", t.handle.String())
			}
			j.appendError(t, err)
			if err := j.decide(ctx, st, t); err != nil {
				return err
			}

		case err != nil:
			if j.collector != nil {
				j.collector.IncPollErrors()
			}
			if j.config.Logger != nil {
				j.config.Logger.Warn(ctx, "failed to get task status", "target", t.item.TargetCollection, "taskID", t.handle.String(), "error", err)
			}
			if j.appendError(t, err) {
				if err := j.decide(ctx, st, t); err != nil {
					return err
				}
			}

		case !status.Valid():
			if j.collector != nil {
				j.collector.IncPollErrors()
			}
			if j.config.Logger != nil {
				j.config.Logger.Warn(ctx, "task reported an error", "target", t.item.TargetCollection, "taskID", t.handle.String(), "error", status.Failure)
			}
			t.status = status
			polled = append(polled, status.Stats)
			if j.appendError(t, status.Failure) || status.Completed {
				if err := j.decide(ctx, st, t); err != nil {
					return err
				}
			}

		default:
			t.errors = nil
			t.status = status
			polled = append(polled, status.Stats)
			if status.Completed {
				j.complete(ctx, st, t)
			}
		}
	}

	st.highest = progress.Highest(polled)
	return nil
}

// appendError adds err to the task's error log and reports whether the log is full.
func (j *Job) appendError(t *task, err error) bool {
	if len(t.errors) < j.config.MaxErrors {
		t.errors = append(t.errors, err)
	}
	return len(t.errors) >= j.config.MaxErrors
}

// decide removes a failing task and either re-enqueues or fails its unit.
func (j *Job) decide(ctx context.Context, st *runState, t *task) error {
	st.remove(t)
	kv := finalize.UnitKeyvals(t.item, t.handle, t.status.Stats, t.status.RunningTime, t.item.Attempts)
	lastErr := t.errors[len(t.errors)-1]

	if t.item.Attempts < j.config.MaxAttempts {
		st.queue.Enqueue(t.item)
		st.retries++

		if j.collector != nil {
			j.collector.IncRetries()
		}
		if j.config.Logger != nil {
			j.config.Logger.Warn(ctx, "FAILED RETRY", append(kv, "error", lastErr)...)
		}
		j.record(ctx, st, orchestrator.UnitEventRetried, t, lastErr)
		j.publish(ctx, j.unitEvent(notify.EventUnitRetried, st, t, lastErr))

		return j.config.Sleep(ctx, j.config.RetryBackoff)
	}

	st.failed = append(st.failed, orchestrator.FailedTask{
		Handle:      t.handle,
		Item:        t.item,
		Stats:       t.status.Stats,
		RunningTime: t.status.RunningTime,
		Attempts:    t.item.Attempts,
		Errors:      append([]error(nil), t.errors...),
	})

	if j.collector != nil {
		j.collector.IncFailed()
		j.collector.ObserveUnitDuration("failed", t.status.RunningTime.Seconds())
	}
	if j.config.Logger != nil {
		j.config.Logger.Error(ctx, "FAILED", append(kv, "error", lastErr)...)
	}
	j.record(ctx, st, orchestrator.UnitEventFailed, t, lastErr)
	j.publish(ctx, j.unitEvent(notify.EventUnitFailed, st, t, lastErr))

	return nil
}

func (j *Job) complete(ctx context.Context, st *runState, t *task) {
	st.remove(t)
	st.completed = append(st.completed, orchestrator.CompletedTask{
		Handle:      t.handle,
		Item:        t.item,
		Stats:       t.status.Stats,
		RunningTime: t.status.RunningTime,
		Attempts:    t.item.Attempts,
	})

	if j.collector != nil {
		j.collector.IncCompleted()
		j.collector.ObserveUnitDuration("completed", t.status.RunningTime.Seconds())
	}

	count, err := j.config.Client.Count(ctx, t.item.TargetCollection)
	if err != nil {
		count = -1
		if j.config.Logger != nil {
			j.config.Logger.Warn(ctx, "failed to count target", "target", t.item.TargetCollection, "error", err)
		}
	}
	if j.config.Logger != nil {
		kv := finalize.UnitKeyvals(t.item, t.handle, t.status.Stats, t.status.RunningTime, t.item.Attempts)
		j.config.Logger.Info(ctx, "COMPLETED", append(kv, "targetCount", count)...)
	}

	j.record(ctx, st, orchestrator.UnitEventCompleted, t, nil)
	j.publish(ctx, j.unitEvent(notify.EventUnitCompleted, st, t, nil))
}

func (j *Job) report(ctx context.Context, st *runState) {
	j.reporter.Observe(progress.Snapshot{
		RunID:           st.runID,
		Completed:       len(st.completed),
		Total:           st.total,
		HighestProgress: st.highest,
		InFlight:        len(st.inFlight),
		Backlog:         st.queue.Len(),
		Failed:          len(st.failed),
		Retries:         st.retries,
	})
	j.reporter.MaybeEmit(ctx)

	if j.collector != nil {
		j.collector.SetInFlight(len(st.inFlight))
		j.collector.SetBacklog(st.queue.Len())
		j.collector.SetHighestProgress(st.highest)
	}
}

// record writes a unit event to the ledger. Failures are logged and never change control flow.
func (j *Job) record(ctx context.Context, st *runState, event orchestrator.UnitEvent, t *task, cause error) {
	if j.config.Ledger == nil || st.runID == "" {
		return
	}

	rec := orchestrator.UnitRecord{
		RunID:       st.runID,
		Event:       event,
		Source:      t.item.SourceCollection,
		Kind:        t.item.SourceKind,
		Target:      t.item.TargetCollection,
		Handle:      t.handle,
		Attempts:    t.item.Attempts,
		Stats:       t.status.Stats,
		RunningTime: t.status.RunningTime,
		RecordedAt:  j.config.Now(),
	}
	if cause != nil {
		rec.Error = cause.Error()
	}

	if err := j.config.Ledger.RecordUnit(context.WithoutCancel(ctx), rec); err != nil && j.config.Logger != nil {
		j.config.Logger.Error(ctx, "failed to record unit", "event", event, "target", rec.Target, "error", err)
	}
}

func (j *Job) setState(ctx context.Context, state orchestrator.RunState) {
	if j.lifecycle == nil {
		return
	}
	if err := j.lifecycle.UpdateState(context.WithoutCancel(ctx), state); err != nil && j.config.Logger != nil {
		j.config.Logger.Error(ctx, "failed to update run state", "state", state, "error", err)
	}
}

func (j *Job) unitEvent(typ notify.EventType, st *runState, t *task, cause error) notify.Event {
	e := notify.Event{
		Type:             typ,
		RunID:            st.runID,
		Source:           t.item.SourceCollection,
		Kind:             t.item.SourceKind,
		Target:           t.item.TargetCollection,
		Handle:           t.handle.String(),
		Attempts:         t.item.Attempts,
		Created:          t.status.Stats.Created,
		Updated:          t.status.Stats.Updated,
		Deleted:          t.status.Stats.Deleted,
		VersionConflicts: t.status.Stats.VersionConflicts,
		Total:            t.status.Stats.Total,
		RunningTimeMS:    t.status.RunningTime.Milliseconds(),
	}
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}

// publish sends e. Failures are logged and ignored.
func (j *Job) publish(ctx context.Context, e notify.Event) {
	e.Job = j.config.JobName
	e.At = j.config.Now()

	if err := j.config.Publisher.Publish(ctx, e); err != nil && j.config.Logger != nil {
		j.config.Logger.Warn(ctx, "failed to publish event", "type", e.Type, "target", e.Target, "error", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
