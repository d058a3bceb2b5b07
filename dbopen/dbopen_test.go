package dbopen_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/pricesnitch/dbopen"
)

func TestOpenMemoryPragmas(t *testing.T) {
	db := dbopen.OpenMemory(t)

	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatal(err)
	}
	if fk != 1 {
		t.Fatalf("foreign_keys = %d, want 1", fk)
	}

	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatal(err)
	}
	if busyTimeout != 10_000 {
		t.Fatalf("busy_timeout = %d, want 10000", busyTimeout)
	}
}

func TestWithBusyTimeout(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithBusyTimeout(5000))

	var bt int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&bt); err != nil {
		t.Fatal(err)
	}
	if bt != 5000 {
		t.Fatalf("busy_timeout = %d, want 5000", bt)
	}
}

func TestWithSchema(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(`CREATE TABLE shops_t (id INTEGER PRIMARY KEY, name TEXT)`))

	if _, err := db.Exec(`INSERT INTO shops_t (name) VALUES ('example')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var name string
	if err := db.QueryRow(`SELECT name FROM shops_t`).Scan(&name); err != nil {
		t.Fatal(err)
	}
	if name != "example" {
		t.Fatalf("name = %q, want example", name)
	}
}

func TestWithMkdirAll(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "deep", "prices.db")

	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		t.Fatalf("open with mkdirall: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestParseDialect(t *testing.T) {
	tests := []struct {
		in      string
		want    dbopen.Dialect
		wantErr bool
	}{
		{"", dbopen.SQLite, false},
		{"sqlite", dbopen.SQLite, false},
		{"postgres", dbopen.Postgres, false},
		{"pgx", dbopen.Postgres, false},
		{"mysql", "", true},
	}
	for _, tt := range tests {
		got, err := dbopen.ParseDialect(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseDialect(%q) err = %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseDialect(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if dbopen.Postgres.DriverName() != "pgx" {
		t.Errorf("postgres driver = %q", dbopen.Postgres.DriverName())
	}
}

func TestIsBusy(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("some other error"), false},
		{errors.New("SQLITE_BUSY"), true},
		{errors.New("database is locked"), true},
		{errors.New("prefix: database table is locked (6)"), true},
		{fmt.Errorf("store: insert: %w", &pgconn.PgError{Code: "40001"}), true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false}, // unique_violation
	}
	for _, tt := range tests {
		if got := dbopen.IsBusy(tt.err); got != tt.want {
			t.Errorf("IsBusy(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := dbopen.Retry(ctx, func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}

	calls = 0
	permanent := errors.New("constraint failed")
	err = dbopen.Retry(ctx, func() error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) || calls != 1 {
		t.Fatalf("non-busy error retried: calls=%d err=%v", calls, err)
	}

	calls = 0
	busy := errors.New("database is locked")
	err = dbopen.Retry(ctx, func() error {
		calls++
		return busy
	})
	if !errors.Is(err, busy) || calls != 3 {
		t.Fatalf("busy forever: calls=%d err=%v", calls, err)
	}
}
