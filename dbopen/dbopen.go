// Package dbopen opens the pricesnitch relational store.
//
// SQLite is the default dialect and gets production-safe pragmas applied via
// EXEC (driver-agnostic):
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// PostgreSQL is reached through the pgx stdlib driver; no pragmas apply.
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/pricesnitch.db", dbopen.WithMkdirAll())
//
//	import _ "github.com/jackc/pgx/v5/stdlib"
//	db, err := dbopen.Open(dsn, dbopen.WithDialect(dbopen.Postgres))
//
// In tests:
//
//	db := dbopen.OpenMemory(t)
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// Dialect selects the SQL flavour of the underlying database.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect maps a config string to a Dialect. Empty means SQLite.
func ParseDialect(s string) (Dialect, error) {
	switch s {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	}
	return "", fmt.Errorf("dbopen: unknown dialect %q", s)
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d == Postgres {
		return "pgx"
	}
	return "sqlite"
}

type config struct {
	dialect     Dialect
	busyTimeout int
	synchronous string
	foreignKeys bool
	mkdirAll    bool
	maxOpen     int
	schemas     []string
	ping        bool
}

func defaults() config {
	return config{
		dialect:     SQLite,
		busyTimeout: 10_000,
		synchronous: "NORMAL",
		foreignKeys: true,
		ping:        true,
	}
}

// Option customises Open behaviour.
type Option func(*config)

// WithDialect selects SQLite (default) or Postgres.
func WithDialect(d Dialect) Option { return func(c *config) { c.dialect = d } }

// WithBusyTimeout sets PRAGMA busy_timeout in milliseconds. Default: 10000.
func WithBusyTimeout(ms int) Option { return func(c *config) { c.busyTimeout = ms } }

// WithSynchronous sets PRAGMA synchronous. Default: "NORMAL".
func WithSynchronous(mode string) Option { return func(c *config) { c.synchronous = mode } }

// WithMkdirAll creates parent directories of a SQLite database path.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithMaxOpenConns caps the pool size. 0 keeps the database/sql default.
func WithMaxOpenConns(n int) Option { return func(c *config) { c.maxOpen = n } }

// WithSchema queues SQL to execute once the connection is ready.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

// WithoutPing skips the db.Ping() verification after opening.
func WithoutPing() Option { return func(c *config) { c.ping = false } }

// Open opens the database at dsn. For SQLite the dsn is a file path or
// ":memory:"; for Postgres it is a connection string. The caller must
// blank-import the matching driver.
func Open(dsn string, opts ...Option) (*sql.DB, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.dialect == SQLite && cfg.mkdirAll && dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open(cfg.dialect.DriverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if cfg.maxOpen > 0 {
		db.SetMaxOpenConns(cfg.maxOpen)
	}

	if cfg.dialect == SQLite {
		if err := applyPragmas(db, &cfg); err != nil {
			db.Close()
			return nil, err
		}
	}

	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}

	if cfg.ping {
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: ping: %w", err)
		}
	}

	return db, nil
}

// OpenMemory opens an in-memory SQLite database for testing.
// MaxOpenConns is pinned to 1 because every connection to ":memory:" is a
// separate database. The database is closed through t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	opts = append([]Option{WithMaxOpenConns(1)}, opts...)
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func applyPragmas(db *sql.DB, cfg *config) error {
	fk := "ON"
	if !cfg.foreignKeys {
		fk = "OFF"
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA foreign_keys = %s", fk),
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.busyTimeout),
		fmt.Sprintf("PRAGMA synchronous = %s", cfg.synchronous),
	}

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	return nil
}
