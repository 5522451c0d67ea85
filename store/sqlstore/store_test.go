package sqlstore

import (
	"testing"

	"github.com/getpup/reindex-orchestrator/pkg/migrations"
	"github.com/stretchr/testify/assert"
)

func TestBind_PostgresNumbersPlaceholders(t *testing.T) {
	s := New(nil, migrations.Postgres)

	got := s.bind("UPDATE t SET a = ?, b = ? WHERE id = ?")

	assert.Equal(t, "UPDATE t SET a = $1, b = $2 WHERE id = $3", got)
}

func TestBind_OtherDialectsKeepQuestionMarks(t *testing.T) {
	for _, d := range []migrations.Dialect{migrations.MySQL, migrations.SQLite} {
		s := New(nil, d)
		assert.Equal(t, "SELECT 1 FROM t WHERE id = ?", s.bind("SELECT 1 FROM t WHERE id = ?"), string(d))
	}
}

func TestNew_QualifiesTables(t *testing.T) {
	pg := New(nil, migrations.Postgres)
	assert.Equal(t, "reindex.runs", pg.runsTable)
	assert.Equal(t, "reindex.unit_events", pg.unitsTable)

	lite := New(nil, migrations.SQLite)
	assert.Equal(t, "reindex_runs", lite.runsTable)
	assert.Equal(t, "reindex_unit_events", lite.unitsTable)
}

func TestNewWithConfig_CustomNames(t *testing.T) {
	cfg := migrations.DefaultConfig()
	cfg.SchemaName = "ledger"
	cfg.RunsTable = "migration_runs"
	cfg.UnitsTable = "migration_units"

	s := NewWithConfig(nil, migrations.MySQL, cfg)

	assert.Equal(t, "ledger.migration_runs", s.runsTable)
	assert.Equal(t, "ledger.migration_units", s.unitsTable)
}

func TestTerminalStates(t *testing.T) {
	assert.Equal(t, "'finished', 'aborted', 'abandoned'", terminalStates())
}
