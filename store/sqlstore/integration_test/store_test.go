//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/getpup/reindex-orchestrator"
	"github.com/getpup/reindex-orchestrator/pkg/migrations"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/getpup/reindex-orchestrator/store/sqlstore"
	"github.com/getpup/reindex-orchestrator/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openDB opens the database named by envVar and skips the test if it is not set.
func openDB(t *testing.T, driver, envVar string) *sql.DB {
	t.Helper()

	dsn := os.Getenv(envVar)
	if dsn == "" {
		t.Skipf("%s not set, skipping integration test", envVar)
	}

	db, err := sql.Open(driver, dsn)
	require.NoError(t, err, "failed to open database")
	require.NoError(t, db.Ping(), "failed to ping database")
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func newStore(t *testing.T, db *sql.DB, dialect migrations.Dialect) *sqlstore.Store {
	t.Helper()

	config := migrations.DefaultConfig()
	config.SchemaName = "reindex_it"
	s := sqlstore.NewWithConfig(db, dialect, config)
	require.NoError(t, s.EnsureSchema(context.Background()))

	return s
}

func TestPostgresLedger(t *testing.T) {
	db := openDB(t, "postgres", "POSTGRES_URL")
	s := newStore(t, db, migrations.Postgres)

	storetest.Run(t, func(t *testing.T) store.LedgerStore { return s })
}

func TestMySQLLedger(t *testing.T) {
	// MYSQL_URL must include parseTime=true
	db := openDB(t, "mysql", "MYSQL_URL")
	s := newStore(t, db, migrations.MySQL)

	storetest.Run(t, func(t *testing.T) store.LedgerStore { return s })
}

func sqliteDB(t *testing.T) *sql.DB {
	t.Helper()

	path := os.Getenv("SQLITE_PATH")
	if path == "" {
		path = filepath.Join(t.TempDir(), "ledger.db")
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return db
}

func TestSQLiteLedger(t *testing.T) {
	s := newStore(t, sqliteDB(t), migrations.SQLite)

	storetest.Run(t, func(t *testing.T) store.LedgerStore { return s })
}

func TestSQLiteEnsureSchemaIsIdempotent(t *testing.T) {
	db := sqliteDB(t)
	s := newStore(t, db, migrations.SQLite)

	assert.NoError(t, s.EnsureSchema(context.Background()))
}

func TestSQLiteConcurrentRecordUnit(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, sqliteDB(t), migrations.SQLite)

	run, err := s.CreateRun(ctx, "reindex-concurrent", 20)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- s.RecordUnit(ctx, orchestrator.UnitRecord{
				RunID:  run.ID,
				Event:  orchestrator.UnitEventSubmitted,
				Target: "new-users-v1",
			})
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	records, err := s.ListUnits(ctx, run.ID)
	require.NoError(t, err)
	assert.Len(t, records, 20)
}
