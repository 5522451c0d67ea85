package orchestrator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRunState_Constants(t *testing.T) {
	t.Run("RunStateRunning equals running", func(t *testing.T) {
		assert.Equal(t, RunState("running"), RunStateRunning)
	})

	t.Run("RunStateFinalizing equals finalizing", func(t *testing.T) {
		assert.Equal(t, RunState("finalizing"), RunStateFinalizing)
	})

	t.Run("RunStateFinished equals finished", func(t *testing.T) {
		assert.Equal(t, RunState("finished"), RunStateFinished)
	})

	t.Run("RunStateAborted equals aborted", func(t *testing.T) {
		assert.Equal(t, RunState("aborted"), RunStateAborted)
	})

	t.Run("RunStateAbandoned equals abandoned", func(t *testing.T) {
		assert.Equal(t, RunState("abandoned"), RunStateAbandoned)
	})
}

func TestRunState_Terminal(t *testing.T) {
	assert.False(t, RunStateRunning.Terminal())
	assert.False(t, RunStateFinalizing.Terminal())
	assert.True(t, RunStateFinished.Terminal())
	assert.True(t, RunStateAborted.Terminal())
	assert.True(t, RunStateAbandoned.Terminal())
}

func TestTaskStats_Progress(t *testing.T) {
	t.Run("zero total reports no progress", func(t *testing.T) {
		stats := TaskStats{Created: 10}

		assert.Equal(t, int64(10), stats.Processed())
		assert.Equal(t, 0.0, stats.Progress())
	})

	t.Run("counts every processed document", func(t *testing.T) {
		stats := TaskStats{Created: 40, Updated: 20, Deleted: 10, VersionConflicts: 30, Total: 200}

		assert.Equal(t, int64(100), stats.Processed())
		assert.InDelta(t, 0.5, stats.Progress(), 1e-9)
	})

	t.Run("complete task", func(t *testing.T) {
		stats := TaskStats{Created: 100, Total: 100}

		assert.Equal(t, 1.0, stats.Progress())
	})
}

func TestTaskStatus_Valid(t *testing.T) {
	assert.True(t, TaskStatus{Completed: true}.Valid())
	assert.False(t, TaskStatus{Failure: errors.New("boom")}.Valid())
}

func TestWorkItem_Key(t *testing.T) {
	item := WorkItem{
		SourceCollection: "prod-organizations-v1",
		SourceKind:       "project",
		TargetCollection: "new-projects-v1",
	}

	assert.Equal(t, "prod-organizations-v1/project->new-projects-v1", item.Key())
}

func TestSummary_Succeeded(t *testing.T) {
	t.Run("all units completed", func(t *testing.T) {
		s := Summary{Total: 2, Completed: make([]CompletedTask, 2)}

		assert.True(t, s.Succeeded())
	})

	t.Run("a failed unit", func(t *testing.T) {
		s := Summary{Total: 2, Completed: make([]CompletedTask, 1), Failed: make([]FailedTask, 1)}

		assert.False(t, s.Succeeded())
	})

	t.Run("zero value summary", func(t *testing.T) {
		var s Summary

		assert.True(t, s.Succeeded())
		assert.True(t, s.StartedAt.IsZero())
	})
}

func TestRun_ZeroValues(t *testing.T) {
	t.Run("zero value run", func(t *testing.T) {
		var run Run

		assert.Equal(t, "", run.ID)
		assert.Equal(t, RunState(""), run.State)
		assert.Equal(t, 0, run.TotalUnits)
		assert.True(t, run.LastHeartbeat.IsZero())
	})

	t.Run("initialized run", func(t *testing.T) {
		now := time.Now()
		run := Run{
			ID:            "run-123",
			Job:           "data-migration",
			State:         RunStateRunning,
			TotalUnits:    187,
			StartedAt:     now,
			LastHeartbeat: now,
		}

		assert.Equal(t, "run-123", run.ID)
		assert.Equal(t, "data-migration", run.Job)
		assert.Equal(t, RunStateRunning, run.State)
		assert.Equal(t, 187, run.TotalUnits)
		assert.Equal(t, now, run.StartedAt)
	})
}

func TestTaskHandle_String(t *testing.T) {
	h := TaskHandle("node-1:42")

	assert.Equal(t, "node-1:42", h.String())
	assert.Equal(t, TaskHandle("node-1:42"), h)
}
