// Package sqlstore is a database/sql implementation of the run ledger for
// PostgreSQL, MySQL/MariaDB and SQLite.
//
// MySQL connections must be opened with parseTime=true so timestamps scan into time.Time.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/pkg/migrations"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/google/uuid"
)

// Store is a SQL implementation of LedgerStore.
type Store struct {
	db         *sql.DB
	dialect    migrations.Dialect
	config     migrations.Config
	runsTable  string
	unitsTable string
}

// Compile-time check that Store implements store.LedgerStore.
var _ store.LedgerStore = (*Store)(nil)

// New creates a new store with default table names.
func New(db *sql.DB, dialect migrations.Dialect) *Store {
	return NewWithConfig(db, dialect, migrations.DefaultConfig())
}

// NewWithConfig creates a new store with custom schema and table names.
func NewWithConfig(db *sql.DB, dialect migrations.Dialect, config migrations.Config) *Store {
	runs, units := config.Tables(dialect)
	return &Store{
		db:         db,
		dialect:    dialect,
		config:     config,
		runsTable:  runs,
		unitsTable: units,
	}
}

// EnsureSchema creates the ledger tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements, err := migrations.Statements(s.dialect, &s.config)
	if err != nil {
		return err
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply ledger schema: %w", err)
		}
	}

	return nil
}

// bind rewrites ? placeholders into the dialect's form.
func (s *Store) bind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func terminalStates() string {
	return fmt.Sprintf("'%s', '%s', '%s'",
		orchestrator.RunStateFinished, orchestrator.RunStateAborted, orchestrator.RunStateAbandoned)
}

// CreateRun records a new run of job in the Running state.
func (s *Store) CreateRun(ctx context.Context, job string, totalUnits int) (orchestrator.Run, error) {
	ts := now()
	run := orchestrator.Run{
		ID:            uuid.New().String(),
		Job:           job,
		State:         orchestrator.RunStateRunning,
		TotalUnits:    totalUnits,
		StartedAt:     ts,
		LastHeartbeat: ts,
	}

	query := s.bind(fmt.Sprintf(`
		INSERT INTO %s (id, job, state, total_units, started_at, last_heartbeat)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.runsTable))

	_, err := s.db.ExecContext(ctx, query, run.ID, job, string(run.State), totalUnits, ts, ts)
	if err != nil {
		return orchestrator.Run{}, fmt.Errorf("failed to create run: %w", err)
	}

	return run, nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (orchestrator.Run, error) {
	query := s.bind(fmt.Sprintf(`
		SELECT id, job, state, total_units, started_at, last_heartbeat, finished_at
		FROM %s
		WHERE id = ?
	`, s.runsTable))

	run, err := scanRun(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return orchestrator.Run{}, orchestrator.ErrRunNotFound
	}
	if err != nil {
		return orchestrator.Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(row rowScanner) (orchestrator.Run, error) {
	var (
		run      orchestrator.Run
		state    string
		finished sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Job, &state, &run.TotalUnits, &run.StartedAt, &run.LastHeartbeat, &finished); err != nil {
		return orchestrator.Run{}, err
	}
	run.State = orchestrator.RunState(state)
	if finished.Valid {
		run.FinishedAt = finished.Time
	}
	return run, nil
}

// UpdateRunState moves a run to state. Terminal runs are never reopened.
func (s *Store) UpdateRunState(ctx context.Context, runID string, state orchestrator.RunState) error {
	var finished sql.NullTime
	if state.Terminal() {
		finished = sql.NullTime{Time: now(), Valid: true}
	}

	query := s.bind(fmt.Sprintf(`
		UPDATE %s
		SET state = ?, finished_at = ?
		WHERE id = ? AND state NOT IN (%s)
	`, s.runsTable, terminalStates()))

	result, err := s.db.ExecContext(ctx, query, string(state), finished, runID)
	if err != nil {
		return fmt.Errorf("failed to update run state: %w", err)
	}

	return s.checkUpdated(ctx, result, runID, true)
}

// Heartbeat updates the last heartbeat time for a run that is not closed.
func (s *Store) Heartbeat(ctx context.Context, runID string) error {
	query := s.bind(fmt.Sprintf(`
		UPDATE %s
		SET last_heartbeat = ?
		WHERE id = ? AND state NOT IN (%s)
	`, s.runsTable, terminalStates()))

	result, err := s.db.ExecContext(ctx, query, now(), runID)
	if err != nil {
		return fmt.Errorf("failed to update heartbeat: %w", err)
	}

	return s.checkUpdated(ctx, result, runID, true)
}

// checkUpdated maps a zero-row update onto the right sentinel. MySQL reports
// zero affected rows when the values did not change, so the run is looked up.
func (s *Store) checkUpdated(ctx context.Context, result sql.Result, runID string, guardClosed bool) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if guardClosed && run.State.Terminal() {
		return store.ErrRunClosed
	}
	return nil
}

// GetActiveRuns returns all non-terminal runs of job, oldest first.
func (s *Store) GetActiveRuns(ctx context.Context, job string) ([]orchestrator.Run, error) {
	query := s.bind(fmt.Sprintf(`
		SELECT id, job, state, total_units, started_at, last_heartbeat, finished_at
		FROM %s
		WHERE job = ? AND state NOT IN (%s)
		ORDER BY started_at
	`, s.runsTable, terminalStates()))

	rows, err := s.db.QueryContext(ctx, query, job)
	if err != nil {
		return nil, fmt.Errorf("failed to get active runs: %w", err)
	}
	defer rows.Close()

	runs := []orchestrator.Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// MarkRunAbandoned marks a run as abandoned.
func (s *Store) MarkRunAbandoned(ctx context.Context, runID string) error {
	query := s.bind(fmt.Sprintf(`
		UPDATE %s
		SET state = ?, finished_at = ?
		WHERE id = ?
	`, s.runsTable))

	result, err := s.db.ExecContext(ctx, query, string(orchestrator.RunStateAbandoned), now(), runID)
	if err != nil {
		return fmt.Errorf("failed to mark run abandoned: %w", err)
	}

	return s.checkUpdated(ctx, result, runID, false)
}

// RecordUnit appends a unit event. RecordedAt defaults to now.
func (s *Store) RecordUnit(ctx context.Context, record orchestrator.UnitRecord) error {
	if _, err := s.GetRun(ctx, record.RunID); err != nil {
		if errors.Is(err, orchestrator.ErrRunNotFound) {
			return store.ErrUnknownRun
		}
		return err
	}

	recordedAt := record.RecordedAt.UTC()
	if record.RecordedAt.IsZero() {
		recordedAt = now()
	}

	query := s.bind(fmt.Sprintf(`
		INSERT INTO %s (run_id, event_type, source, kind, target, handle, attempts,
			created, updated, deleted, version_conflicts, total, running_time_ns, error_message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.unitsTable))

	st := record.Stats
	_, err := s.db.ExecContext(ctx, query,
		record.RunID, string(record.Event), record.Source, record.Kind, record.Target, string(record.Handle), record.Attempts,
		st.Created, st.Updated, st.Deleted, st.VersionConflicts, st.Total, int64(record.RunningTime), record.Error, recordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record unit: %w", err)
	}

	return nil
}

// ListUnits returns the unit events of a run in insertion order.
func (s *Store) ListUnits(ctx context.Context, runID string) ([]orchestrator.UnitRecord, error) {
	query := s.bind(fmt.Sprintf(`
		SELECT run_id, event_type, source, kind, target, handle, attempts,
			created, updated, deleted, version_conflicts, total, running_time_ns, error_message, recorded_at
		FROM %s
		WHERE run_id = ?
		ORDER BY seq
	`, s.unitsTable))

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer rows.Close()

	records := []orchestrator.UnitRecord{}
	for rows.Next() {
		var (
			r           orchestrator.UnitRecord
			event       string
			handle      string
			runningTime int64
		)
		err := rows.Scan(&r.RunID, &event, &r.Source, &r.Kind, &r.Target, &handle, &r.Attempts,
			&r.Stats.Created, &r.Stats.Updated, &r.Stats.Deleted, &r.Stats.VersionConflicts, &r.Stats.Total,
			&runningTime, &r.Error, &r.RecordedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		r.Event = orchestrator.UnitEvent(event)
		r.Handle = orchestrator.TaskHandle(handle)
		r.RunningTime = time.Duration(runningTime)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating units: %w", err)
	}

	return records, nil
}

// CompletedTargets returns the distinct targets completed by any run of job, sorted.
func (s *Store) CompletedTargets(ctx context.Context, job string) ([]string, error) {
	query := s.bind(fmt.Sprintf(`
		SELECT DISTINCT u.target
		FROM %s u
		JOIN %s r ON r.id = u.run_id
		WHERE r.job = ? AND u.event_type = ?
		ORDER BY u.target
	`, s.unitsTable, s.runsTable))

	rows, err := s.db.QueryContext(ctx, query, job, string(orchestrator.UnitEventCompleted))
	if err != nil {
		return nil, fmt.Errorf("failed to get completed targets: %w", err)
	}
	defer rows.Close()

	targets := []string{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}
		targets = append(targets, target)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}

	return targets, nil
}
