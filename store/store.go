// Package store is the relational store behind pricesnitch: typed CRUD over
// shops, products, users, subscriptions, price changes and notifications,
// plus the two aggregate queries the ledger and notifier depend on.
//
// Queries are written once with "?" placeholders and rebound for PostgreSQL.
// Every logical operation is "read, compute in memory, single insert"; no
// explicit transactions are used.
package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/hazyhaar/pricesnitch/dbopen"
)

// Store wraps a *sql.DB for one dialect.
type Store struct {
	DB      *sql.DB
	dialect dbopen.Dialect
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithDialect sets the SQL dialect. Default: SQLite.
func WithDialect(d dbopen.Dialect) Option {
	return func(s *Store) { s.dialect = d }
}

// WithClock overrides the clock used to stamp created_at columns.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over db.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{DB: db, dialect: dbopen.SQLite, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Dialect returns the store's SQL dialect.
func (s *Store) Dialect() dbopen.Dialect { return s.dialect }

// rebind rewrites "?" placeholders to "$n" for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.dialect != dbopen.Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	return dbopen.Retry(ctx, func() error {
		_, err := s.DB.ExecContext(ctx, s.rebind(query), args...)
		return err
	})
}

// insertID runs an INSERT ... RETURNING id statement.
func (s *Store) insertID(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	err := dbopen.Retry(ctx, func() error {
		return s.DB.QueryRowContext(ctx, s.rebind(query), args...).Scan(&id)
	})
	return id, err
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.DB.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.DB.QueryRowContext(ctx, s.rebind(query), args...)
}

func (s *Store) stamp(t time.Time) int64 {
	if t.IsZero() {
		t = s.now()
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}
