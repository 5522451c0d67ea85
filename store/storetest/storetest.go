// Package storetest holds behaviour tests shared by every LedgerStore implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a ready-to-use store. Backends sharing a database between
// subtests are fine: every subtest uses its own job name.
type Factory func(t *testing.T) store.LedgerStore

// Run executes the shared ledger behaviour tests against the store built by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.LedgerStore)
	}{
		{"CreateAndGetRun", testCreateAndGetRun},
		{"GetRunNotFound", testGetRunNotFound},
		{"UpdateRunState", testUpdateRunState},
		{"UpdateRunStateNotFound", testUpdateRunStateNotFound},
		{"Heartbeat", testHeartbeat},
		{"GetActiveRuns", testGetActiveRuns},
		{"MarkRunAbandoned", testMarkRunAbandoned},
		{"RecordAndListUnits", testRecordAndListUnits},
		{"RecordUnitUnknownRun", testRecordUnitUnknownRun},
		{"CompletedTargets", testCompletedTargets},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

func jobName() string {
	return "reindex-" + uuid.New().String()
}

func testCreateAndGetRun(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	job := jobName()

	before := time.Now().Add(-time.Second)
	run, err := s.CreateRun(ctx, job, 187)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, job, run.Job)
	assert.Equal(t, orchestrator.RunStateRunning, run.State)
	assert.Equal(t, 187, run.TotalUnits)
	assert.True(t, run.StartedAt.After(before))
	assert.True(t, run.FinishedAt.IsZero())

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.ID, got.ID)
	assert.Equal(t, job, got.Job)
	assert.Equal(t, orchestrator.RunStateRunning, got.State)
	assert.Equal(t, 187, got.TotalUnits)
	assert.WithinDuration(t, run.StartedAt, got.StartedAt, time.Second)
}

func testGetRunNotFound(t *testing.T, s store.LedgerStore) {
	_, err := s.GetRun(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func testUpdateRunState(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, jobName(), 1)
	require.NoError(t, err)

	require.NoError(t, s.UpdateRunState(ctx, run.ID, orchestrator.RunStateFinalizing))
	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.RunStateFinalizing, got.State)
	assert.True(t, got.FinishedAt.IsZero())

	require.NoError(t, s.UpdateRunState(ctx, run.ID, orchestrator.RunStateFinished))
	got, err = s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.RunStateFinished, got.State)
	assert.False(t, got.FinishedAt.IsZero())

	err = s.UpdateRunState(ctx, run.ID, orchestrator.RunStateRunning)
	assert.ErrorIs(t, err, store.ErrRunClosed)
}

func testUpdateRunStateNotFound(t *testing.T, s store.LedgerStore) {
	err := s.UpdateRunState(context.Background(), uuid.New().String(), orchestrator.RunStateFinished)
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func testHeartbeat(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, jobName(), 1)
	require.NoError(t, err)

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, s.Heartbeat(ctx, run.ID))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.False(t, got.LastHeartbeat.Before(run.LastHeartbeat.Truncate(time.Second)))

	err = s.Heartbeat(ctx, uuid.New().String())
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)

	require.NoError(t, s.MarkRunAbandoned(ctx, run.ID))
	err = s.Heartbeat(ctx, run.ID)
	assert.ErrorIs(t, err, store.ErrRunClosed)
}

func testGetActiveRuns(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	job := jobName()

	running, err := s.CreateRun(ctx, job, 1)
	require.NoError(t, err)
	finished, err := s.CreateRun(ctx, job, 1)
	require.NoError(t, err)
	require.NoError(t, s.UpdateRunState(ctx, finished.ID, orchestrator.RunStateFinished))
	_, err = s.CreateRun(ctx, jobName(), 1)
	require.NoError(t, err)

	runs, err := s.GetActiveRuns(ctx, job)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, running.ID, runs[0].ID)

	none, err := s.GetActiveRuns(ctx, jobName())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func testMarkRunAbandoned(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	job := jobName()
	run, err := s.CreateRun(ctx, job, 1)
	require.NoError(t, err)

	require.NoError(t, s.MarkRunAbandoned(ctx, run.ID))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.RunStateAbandoned, got.State)
	assert.False(t, got.FinishedAt.IsZero())

	active, err := s.GetActiveRuns(ctx, job)
	require.NoError(t, err)
	assert.Empty(t, active)

	err = s.MarkRunAbandoned(ctx, uuid.New().String())
	assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
}

func testRecordAndListUnits(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	run, err := s.CreateRun(ctx, jobName(), 1)
	require.NoError(t, err)

	base := orchestrator.UnitRecord{
		RunID:  run.ID,
		Source: "old-events-v1-2024.03.01",
		Kind:   "events",
		Target: "new-events-v1-2024.03.01",
	}

	submitted := base
	submitted.Event = orchestrator.UnitEventSubmitted
	submitted.Handle = "node-a:1"
	submitted.Attempts = 1

	retried := base
	retried.Event = orchestrator.UnitEventRetried
	retried.Handle = "node-a:1"
	retried.Attempts = 1
	retried.Error = "task node-a:1 failed: connect_exception"

	completed := base
	completed.Event = orchestrator.UnitEventCompleted
	completed.Handle = "node-a:2"
	completed.Attempts = 2
	completed.Stats = orchestrator.TaskStats{Created: 90, Updated: 5, Deleted: 1, VersionConflicts: 4, Total: 100}
	completed.RunningTime = 95 * time.Second

	for _, r := range []orchestrator.UnitRecord{submitted, retried, completed} {
		require.NoError(t, s.RecordUnit(ctx, r))
	}

	records, err := s.ListUnits(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, orchestrator.UnitEventSubmitted, records[0].Event)
	assert.Equal(t, orchestrator.UnitEventRetried, records[1].Event)
	assert.Equal(t, "task node-a:1 failed: connect_exception", records[1].Error)
	assert.Equal(t, orchestrator.UnitEventCompleted, records[2].Event)

	got := records[2]
	assert.Equal(t, run.ID, got.RunID)
	assert.Equal(t, "old-events-v1-2024.03.01", got.Source)
	assert.Equal(t, "events", got.Kind)
	assert.Equal(t, "new-events-v1-2024.03.01", got.Target)
	assert.Equal(t, orchestrator.TaskHandle("node-a:2"), got.Handle)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, completed.Stats, got.Stats)
	assert.Equal(t, 95*time.Second, got.RunningTime)
	assert.False(t, got.RecordedAt.IsZero())

	empty, err := s.ListUnits(ctx, uuid.New().String())
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testRecordUnitUnknownRun(t *testing.T, s store.LedgerStore) {
	err := s.RecordUnit(context.Background(), orchestrator.UnitRecord{
		RunID:  uuid.New().String(),
		Event:  orchestrator.UnitEventSubmitted,
		Target: "new-users-v1",
	})
	assert.ErrorIs(t, err, store.ErrUnknownRun)
}

func testCompletedTargets(t *testing.T, s store.LedgerStore) {
	ctx := context.Background()
	job := jobName()

	first, err := s.CreateRun(ctx, job, 3)
	require.NoError(t, err)
	second, err := s.CreateRun(ctx, job, 3)
	require.NoError(t, err)
	other, err := s.CreateRun(ctx, jobName(), 1)
	require.NoError(t, err)

	records := []orchestrator.UnitRecord{
		{RunID: first.ID, Event: orchestrator.UnitEventCompleted, Target: "new-users-v1"},
		{RunID: first.ID, Event: orchestrator.UnitEventFailed, Target: "new-tokens-v1"},
		{RunID: second.ID, Event: orchestrator.UnitEventCompleted, Target: "new-projects-v1"},
		{RunID: second.ID, Event: orchestrator.UnitEventCompleted, Target: "new-users-v1"},
		{RunID: second.ID, Event: orchestrator.UnitEventSubmitted, Target: "new-webhooks-v1"},
		{RunID: other.ID, Event: orchestrator.UnitEventCompleted, Target: "new-stacks-v1"},
	}
	for _, r := range records {
		require.NoError(t, s.RecordUnit(ctx, r))
	}

	targets, err := s.CompletedTargets(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, []string{"new-projects-v1", "new-users-v1"}, targets)
}
