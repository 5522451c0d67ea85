// Command migrate-gen generates SQL migration files for the run ledger.
//
// Usage:
//
//	go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --output migrations --filename init.sql
//
// Or with go generate:
//
//	//go:generate go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --output migrations
//
// Generate migrations for different database adapters:
//
//	go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --adapter postgres --output migrations
//	go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --adapter mysql --output migrations
//	go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --adapter sqlite --output migrations
//
// Customize table names:
//
//	go run github.com/getpup/reindex-orchestrator/cmd/migrate-gen --schema ledger --runs-table job_runs
package main

import (
	"fmt"
	"os"

	"github.com/getpup/reindex-orchestrator/pkg/migrations"
	"github.com/jessevdk/go-flags"
)

type options struct {
	Adapter        string `long:"adapter" default:"postgres" description:"database adapter: postgres, mysql or sqlite"`
	OutputFolder   string `long:"output" default:"migrations" description:"output folder for the migration file"`
	OutputFilename string `long:"filename" description:"output filename (default: timestamp-based)"`
	SchemaName     string `long:"schema" default:"reindex" description:"schema name (PostgreSQL), database name (MySQL) or table prefix (SQLite)"`
	RunsTable      string `long:"runs-table" default:"runs" description:"name of the runs table"`
	UnitsTable     string `long:"units-table" default:"unit_events" description:"name of the unit events table"`
}

func main() {
	var opts options
	if _, err := flags.NewParser(&opts, flags.Default).Parse(); err != nil {
		if flags.WroteHelp(err) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	dialect, err := migrations.ParseDialect(opts.Adapter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	config := migrations.DefaultConfig()
	config.OutputFolder = opts.OutputFolder
	config.SchemaName = opts.SchemaName
	config.RunsTable = opts.RunsTable
	config.UnitsTable = opts.UnitsTable

	if opts.OutputFilename != "" {
		config.OutputFilename = opts.OutputFilename
	}

	if err := migrations.Generate(dialect, &config); err != nil {
		fmt.Fprintf(os.Stderr, "Error generating migration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s migration: %s/%s\n", dialect, config.OutputFolder, config.OutputFilename)
}
