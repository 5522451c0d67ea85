//go:build integration

package migrations_test

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/getpup/reindex-orchestrator/pkg/migrations"
)

// NOTE: Integration tests use string interpolation for SQL queries with validated
// configuration values. Production code should always use parameterized queries.

func applyStatements(t *testing.T, db *sql.DB, dialect migrations.Dialect, config *migrations.Config) {
	t.Helper()

	statements, err := migrations.Statements(dialect, config)
	if err != nil {
		t.Fatalf("Failed to build statements: %v", err)
	}

	// Applying twice proves the migration is idempotent
	for i := 0; i < 2; i++ {
		for _, stmt := range statements {
			if _, err := db.Exec(stmt); err != nil {
				t.Fatalf("Failed to execute statement (pass %d): %v\n%s", i+1, err, stmt)
			}
		}
	}
}

func TestIntegrationPostgres(t *testing.T) {
	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping PostgreSQL integration test")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	config := migrations.DefaultConfig()
	config.SchemaName = "reindex_migrations_test"
	applyStatements(t, db, migrations.Postgres, &config)
	defer func() {
		if _, err := db.Exec(fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", config.SchemaName)); err != nil {
			t.Logf("Warning: Failed to clean up schema: %v", err)
		}
	}()

	for _, table := range []string{config.RunsTable, config.UnitsTable} {
		var exists bool
		err = db.QueryRow("SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2)",
			config.SchemaName, table).Scan(&exists)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("Table %s was not created", table)
		}
	}

	runs, _ := config.Tables(migrations.Postgres)
	_, err = db.Exec(fmt.Sprintf("INSERT INTO %s (id, job, state) VALUES ('6f1c2a3e-0000-4000-8000-000000000001', 'reindex', 'bogus')", runs))
	if err == nil {
		t.Error("Expected state check constraint to reject unknown states")
	}
}

func TestIntegrationMySQL(t *testing.T) {
	dbURL := os.Getenv("MYSQL_URL")
	if dbURL == "" {
		t.Skip("MYSQL_URL not set, skipping MySQL integration test")
	}

	db, err := sql.Open("mysql", dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to MySQL: %v", err)
	}
	defer db.Close()

	config := migrations.DefaultConfig()
	config.SchemaName = "reindex_migrations_test"
	applyStatements(t, db, migrations.MySQL, &config)
	defer func() {
		if _, err := db.Exec(fmt.Sprintf("DROP DATABASE IF EXISTS %s", config.SchemaName)); err != nil {
			t.Logf("Warning: Failed to clean up database: %v", err)
		}
	}()

	for _, table := range []string{config.RunsTable, config.UnitsTable} {
		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?",
			config.SchemaName, table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count == 0 {
			t.Errorf("Table %s was not created", table)
		}
	}
}

func TestIntegrationSQLite(t *testing.T) {
	tmpDir := t.TempDir()

	config := migrations.DefaultConfig()
	config.OutputFolder = tmpDir
	config.OutputFilename = "sqlite_integration.sql"

	if err := migrations.GenerateSQLite(&config); err != nil {
		t.Fatalf("Failed to generate migration: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join(tmpDir, config.OutputFilename))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(tmpDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to connect to SQLite: %v", err)
	}
	defer db.Close()

	// The generated file runs as one script
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to execute migration: %v", err)
	}

	runs, units := config.Tables(migrations.SQLite)
	for _, table := range []string{runs, units} {
		var count int
		err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if err != nil {
			t.Fatalf("Failed to check table %s: %v", table, err)
		}
		if count == 0 {
			t.Errorf("Table %s was not created", table)
		}
	}

	applyStatements(t, db, migrations.SQLite, &config)
}
