package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DB wraps the connection pool together with the driver it was opened with.
// Connections are checked out per statement by database/sql and returned
// as soon as the statement or transaction finishes.
type DB struct {
	*sql.DB
	Driver string
}

// NewDB opens and pings a database handle
func NewDB(driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{DB: db, Driver: driver}, nil
}

// Migrate creates the jobs table (and its schema on Postgres) if missing
func (db *DB) Migrate(ctx context.Context, schema, table string) error {
	if err := CheckIdentifier(schema); err != nil {
		return err
	}
	if err := CheckIdentifier(table); err != nil {
		return err
	}
	qualified := pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)

	var stmts []string
	switch db.Driver {
	case DriverPostgres:
		stmts = []string{
			`CREATE SCHEMA IF NOT EXISTS ` + pq.QuoteIdentifier(schema),
			`CREATE TABLE IF NOT EXISTS ` + qualified + ` (
				id SERIAL PRIMARY KEY,
				minx DOUBLE PRECISION NOT NULL,
				miny DOUBLE PRECISION NOT NULL,
				maxx DOUBLE PRECISION NOT NULL,
				maxy DOUBLE PRECISION NOT NULL,
				layers TEXT,
				status TEXT NOT NULL,
				data_id TEXT NOT NULL UNIQUE,
				created_at BIGINT NOT NULL,
				updated_at BIGINT NOT NULL
			)`,
		}
	case DriverSQLite:
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS ` + qualified + ` (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				minx REAL NOT NULL,
				miny REAL NOT NULL,
				maxx REAL NOT NULL,
				maxy REAL NOT NULL,
				layers TEXT,
				status TEXT NOT NULL,
				data_id TEXT NOT NULL UNIQUE,
				created_at INTEGER NOT NULL,
				updated_at INTEGER NOT NULL
			)`,
		}
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", qualified, err)
		}
	}
	return nil
}
