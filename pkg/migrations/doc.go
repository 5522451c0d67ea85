// Package migrations provides SQL migration generation for the reindex run ledger.
// It generates the runs and unit events tables for PostgreSQL, MySQL/MariaDB and SQLite,
// either as a migration file or as statements a store can execute directly.
package migrations
