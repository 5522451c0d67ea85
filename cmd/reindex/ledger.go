package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/getpup/reindex-orchestrator/config"
	"github.com/getpup/reindex-orchestrator/pkg/migrations"
	"github.com/getpup/reindex-orchestrator/store"
	"github.com/getpup/reindex-orchestrator/store/memory"
	"github.com/getpup/reindex-orchestrator/store/mongostore"
	"github.com/getpup/reindex-orchestrator/store/sqlstore"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

var sqlDrivers = map[migrations.Dialect]string{
	migrations.Postgres: "postgres",
	migrations.MySQL:    "mysql",
	migrations.SQLite:   "sqlite3",
}

// openLedger connects the configured ledger backend and prepares its schema.
// The returned function releases the connection.
func openLedger(ctx context.Context, opts config.LedgerOptions) (store.LedgerStore, func(), error) {
	switch opts.Backend {
	case config.LedgerMemory:
		return memory.New(), func() {}, nil

	case config.LedgerMongoDB:
		client, err := mongostore.Connect(ctx, opts.DSN)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = client.Disconnect(context.Background()) }

		s := mongostore.New(client.Database(opts.Database), mongostore.Config{})
		if err := s.EnsureIndexes(ctx); err != nil {
			closeFn()
			return nil, nil, err
		}
		return s, closeFn, nil
	}

	dialect, err := migrations.ParseDialect(opts.Backend)
	if err != nil {
		return nil, nil, err
	}

	db, err := sql.Open(sqlDrivers[dialect], opts.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s ledger: %w", dialect, err)
	}
	closeFn := func() { _ = db.Close() }

	if err := db.PingContext(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("failed to connect to %s ledger: %w", dialect, err)
	}

	s := sqlstore.New(db, dialect)
	if err := s.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return s, closeFn, nil
}
