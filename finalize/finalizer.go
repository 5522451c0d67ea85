// Package finalize audits the outcome of a migration run and republishes aliases.
package finalize

import (
	"context"
	"fmt"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/logging"
)

// Counter counts documents in a collection.
type Counter interface {
	Count(ctx context.Context, collection string) (int64, error)
}

// Config holds configuration for the Finalizer.
type Config struct {
	// Counter audits target collections (required).
	Counter Counter

	// Aliases repoints aliases at the migrated collections (optional).
	Aliases orchestrator.AliasMaintainer

	// Logger is for observability (optional).
	Logger logging.Logger

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Finalizer logs one summary line per unit and then maintains aliases.
type Finalizer struct {
	config Config
}

// New creates a Finalizer.
func New(cfg Config) *Finalizer {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Finalizer{config: cfg}
}

// Finalize reports every completed and failed unit of s, then updates aliases.
// Audit counts that cannot be read are reported as -1 and never fail the call.
func (f *Finalizer) Finalize(ctx context.Context, s orchestrator.Summary) error {
	f.info(ctx, "----- DONE",
		"completed", len(s.Completed),
		"total", s.Total,
		"elapsed", f.config.Now().Sub(s.StartedAt).Round(time.Second).String(),
		"failed", len(s.Failed),
		"retries", s.Retries)

	for _, t := range s.Completed {
		kv := append(UnitKeyvals(t.Item, t.Handle, t.Stats, t.RunningTime, t.Attempts), "targetCount", f.audit(ctx, t.Item.TargetCollection))
		f.info(ctx, "SUCCESS", kv...)
	}

	for _, t := range s.Failed {
		kv := append(UnitKeyvals(t.Item, t.Handle, t.Stats, t.RunningTime, t.Attempts), "targetCount", f.audit(ctx, t.Item.TargetCollection))
		if n := len(t.Errors); n > 0 {
			kv = append(kv, "error", t.Errors[n-1].Error(), "errors", n)
		}
		if f.config.Logger != nil {
			f.config.Logger.Error(ctx, "FAILED", kv...)
		}
	}

	if f.config.Aliases == nil {
		return nil
	}

	f.info(ctx, "Updating aliases")
	if err := f.config.Aliases.MaintainAliases(ctx); err != nil {
		return fmt.Errorf("failed to update aliases: %w", err)
	}
	f.info(ctx, "Updated aliases")

	return nil
}

func (f *Finalizer) audit(ctx context.Context, collection string) int64 {
	n, err := f.config.Counter.Count(ctx, collection)
	if err != nil {
		if f.config.Logger != nil {
			f.config.Logger.Warn(ctx, "failed to count target", "target", collection, "error", err)
		}
		return -1
	}
	return n
}

func (f *Finalizer) info(ctx context.Context, msg string, keyvals ...interface{}) {
	if f.config.Logger != nil {
		f.config.Logger.Info(ctx, msg, keyvals...)
	}
}

// UnitKeyvals returns the fields shared by every per-unit log line.
func UnitKeyvals(item orchestrator.WorkItem, handle orchestrator.TaskHandle, stats orchestrator.TaskStats, runningTime time.Duration, attempts int) []interface{} {
	return []interface{}{
		"source", item.SourceCollection,
		"kind", item.SourceKind,
		"target", item.TargetCollection,
		"duration", runningTime.Round(time.Second).String(),
		"created", stats.Created,
		"updated", stats.Updated,
		"deleted", stats.Deleted,
		"conflicts", stats.VersionConflicts,
		"total", stats.Total,
		"attempts", attempts,
		"taskID", handle.String(),
	}
}
