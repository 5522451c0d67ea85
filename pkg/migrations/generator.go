package migrations

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

// Dialect selects the SQL flavour of the generated schema.
type Dialect string

const (
	Postgres Dialect = "postgres"
	MySQL    Dialect = "mysql"
	SQLite   Dialect = "sqlite"
)

// ParseDialect returns the dialect named s.
func ParseDialect(s string) (Dialect, error) {
	switch d := Dialect(strings.ToLower(s)); d {
	case Postgres, MySQL, SQLite:
		return d, nil
	case "postgresql", "pg":
		return Postgres, nil
	case "mariadb":
		return MySQL, nil
	case "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported dialect '%s': supported dialects are postgres, mysql, sqlite", s)
}

// validateIdentifier ensures an identifier contains only safe characters for SQL.
// Returns an error if the identifier contains characters that could be used for SQL injection.
func validateIdentifier(name, fieldName string) error {
	if name == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if !identifierRegex.MatchString(name) {
		return fmt.Errorf("%s must start with a letter and contain only letters, numbers, and underscores (got: %s)", fieldName, name)
	}
	return nil
}

// validateConfig validates all configuration values to prevent SQL injection.
func validateConfig(config *Config) error {
	if err := validateIdentifier(config.SchemaName, "SchemaName"); err != nil {
		return err
	}
	if err := validateIdentifier(config.RunsTable, "RunsTable"); err != nil {
		return err
	}
	if err := validateIdentifier(config.UnitsTable, "UnitsTable"); err != nil {
		return err
	}
	return nil
}

// Config configures migration generation for the run ledger tables.
type Config struct {
	// OutputFolder is the directory where the migration file will be written
	OutputFolder string

	// OutputFilename is the name of the migration file
	OutputFilename string

	// SchemaName is the database schema name (PostgreSQL) or database name (MySQL)
	// For SQLite, table name prefixes are used instead of schemas (e.g., reindex_runs)
	SchemaName string

	// RunsTable is the name of the runs table
	RunsTable string

	// UnitsTable is the name of the unit events table
	UnitsTable string
}

// DefaultConfig returns the default configuration for ledger migrations.
func DefaultConfig() Config {
	timestamp := time.Now().Format("20060102150405")
	return Config{
		OutputFolder:   "migrations",
		OutputFilename: fmt.Sprintf("%s_init_reindex_ledger.sql", timestamp),
		SchemaName:     "reindex",
		RunsTable:      "runs",
		UnitsTable:     "unit_events",
	}
}

// Tables returns the qualified runs and unit events table names for dialect.
func (c Config) Tables(dialect Dialect) (runs, units string) {
	if dialect == SQLite {
		return c.SchemaName + "_" + c.RunsTable, c.SchemaName + "_" + c.UnitsTable
	}
	return c.SchemaName + "." + c.RunsTable, c.SchemaName + "." + c.UnitsTable
}

// Statements returns the DDL for dialect as individually executable statements.
func Statements(dialect Dialect, config *Config) ([]string, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	switch dialect {
	case Postgres:
		return postgresStatements(config), nil
	case MySQL:
		return mysqlStatements(config), nil
	case SQLite:
		return sqliteStatements(config), nil
	}
	return nil, fmt.Errorf("unsupported dialect '%s'", dialect)
}

// Generate writes a migration file for dialect.
func Generate(dialect Dialect, config *Config) error {
	statements, err := Statements(dialect, config)
	if err != nil {
		return err
	}

	// Ensure output folder exists
	if err := os.MkdirAll(config.OutputFolder, 0o755); err != nil {
		return fmt.Errorf("failed to create output folder: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "-- Reindex Run Ledger Migration\n-- Generated: %s\n-- Database: %s\n", time.Now().Format(time.RFC3339), dialectTitle(dialect))
	for _, stmt := range statements {
		b.WriteString("\n")
		b.WriteString(stmt)
		b.WriteString(";\n")
	}

	outputPath := filepath.Join(config.OutputFolder, config.OutputFilename)
	if err := os.WriteFile(outputPath, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("failed to write migration file: %w", err)
	}

	return nil
}

// GeneratePostgres generates a PostgreSQL migration file.
func GeneratePostgres(config *Config) error {
	return Generate(Postgres, config)
}

// GenerateMySQL generates a MySQL/MariaDB migration file.
func GenerateMySQL(config *Config) error {
	return Generate(MySQL, config)
}

// GenerateSQLite generates a SQLite migration file.
func GenerateSQLite(config *Config) error {
	return Generate(SQLite, config)
}

func dialectTitle(d Dialect) string {
	switch d {
	case Postgres:
		return "PostgreSQL"
	case MySQL:
		return "MySQL/MariaDB"
	default:
		return "SQLite"
	}
}

const runStates = "'running', 'finalizing', 'finished', 'aborted', 'abandoned'"

const unitEvents = "'submitted', 'retried', 'completed', 'failed'"

func postgresStatements(config *Config) []string {
	runs, units := config.Tables(Postgres)
	return []string{
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", config.SchemaName),

		// One row per execution of a migration job
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id UUID PRIMARY KEY,
    job TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'running' CHECK (state IN (%s)),
    total_units INT NOT NULL DEFAULT 0,
    started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_heartbeat TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    finished_at TIMESTAMPTZ NULL
)`, runs, runStates),

		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_job_state ON %s (job, state)", config.RunsTable, runs),

		// Append-only log of what happened to each unit
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    seq BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES %s (id),
    event_type TEXT NOT NULL CHECK (event_type IN (%s)),
    source TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT '',
    target TEXT NOT NULL,
    handle TEXT NOT NULL DEFAULT '',
    attempts INT NOT NULL DEFAULT 0,
    created BIGINT NOT NULL DEFAULT 0,
    updated BIGINT NOT NULL DEFAULT 0,
    deleted BIGINT NOT NULL DEFAULT 0,
    version_conflicts BIGINT NOT NULL DEFAULT 0,
    total BIGINT NOT NULL DEFAULT 0,
    running_time_ns BIGINT NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`, units, runs, unitEvents),

		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_run ON %s (run_id, seq)", config.UnitsTable, units),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_target ON %s (target, event_type)", config.UnitsTable, units),
	}
}

func mysqlStatements(config *Config) []string {
	runs, units := config.Tables(MySQL)
	return []string{
		// In MySQL, we use a separate database instead of schema
		fmt.Sprintf(`CREATE DATABASE IF NOT EXISTS %s
    DEFAULT CHARACTER SET utf8mb4
    DEFAULT COLLATE utf8mb4_unicode_ci`, config.SchemaName),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id CHAR(36) PRIMARY KEY,
    job VARCHAR(255) NOT NULL,
    state ENUM(%s) NOT NULL DEFAULT 'running',
    total_units INT NOT NULL DEFAULT 0,
    started_at DATETIME(6) NOT NULL,
    last_heartbeat DATETIME(6) NOT NULL,
    finished_at DATETIME(6) NULL,
    INDEX idx_%s_job_state (job, state)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, runs, runStates, config.RunsTable),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    seq BIGINT AUTO_INCREMENT PRIMARY KEY,
    run_id CHAR(36) NOT NULL,
    event_type ENUM(%s) NOT NULL,
    source VARCHAR(255) NOT NULL DEFAULT '',
    kind VARCHAR(255) NOT NULL DEFAULT '',
    target VARCHAR(255) NOT NULL,
    handle VARCHAR(255) NOT NULL DEFAULT '',
    attempts INT NOT NULL DEFAULT 0,
    created BIGINT NOT NULL DEFAULT 0,
    updated BIGINT NOT NULL DEFAULT 0,
    deleted BIGINT NOT NULL DEFAULT 0,
    version_conflicts BIGINT NOT NULL DEFAULT 0,
    total BIGINT NOT NULL DEFAULT 0,
    running_time_ns BIGINT NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL,
    recorded_at DATETIME(6) NOT NULL,
    INDEX idx_%s_run (run_id, seq),
    INDEX idx_%s_target (target, event_type),
    FOREIGN KEY (run_id) REFERENCES %s (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`, units, unitEvents, config.UnitsTable, config.UnitsTable, runs),
	}
}

func sqliteStatements(config *Config) []string {
	// SQLite doesn't support schemas, so we use table name prefixes instead
	runs, units := config.Tables(SQLite)
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    id TEXT PRIMARY KEY,
    job TEXT NOT NULL,
    state TEXT NOT NULL DEFAULT 'running' CHECK (state IN (%s)),
    total_units INTEGER NOT NULL DEFAULT 0,
    started_at TIMESTAMP NOT NULL,
    last_heartbeat TIMESTAMP NOT NULL,
    finished_at TIMESTAMP NULL
)`, runs, runStates),

		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_job_state ON %s (job, state)", runs, runs),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL REFERENCES %s (id),
    event_type TEXT NOT NULL CHECK (event_type IN (%s)),
    source TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL DEFAULT '',
    target TEXT NOT NULL,
    handle TEXT NOT NULL DEFAULT '',
    attempts INTEGER NOT NULL DEFAULT 0,
    created INTEGER NOT NULL DEFAULT 0,
    updated INTEGER NOT NULL DEFAULT 0,
    deleted INTEGER NOT NULL DEFAULT 0,
    version_conflicts INTEGER NOT NULL DEFAULT 0,
    total INTEGER NOT NULL DEFAULT 0,
    running_time_ns INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP NOT NULL
)`, units, runs, unitEvents),

		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_run ON %s (run_id, seq)", units, units),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_target ON %s (target, event_type)", units, units),
	}
}
