package dbopen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Retry policy: attempts, and the backoff step added before each retry.
const (
	retryAttempts = 3
	retryStep     = 100 * time.Millisecond
)

// Postgres SQLSTATEs that a retry can resolve.
var retryableStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// IsBusy reports whether err is a transient write conflict: SQLite BUSY or
// a locked table, or one of the Postgres lock errors in retryableStates.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return retryableStates[pgErr.Code]
	}
	msg := err.Error()
	for _, s := range []string{"SQLITE_BUSY", "database is locked", "database table is locked"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// Retry runs fn until it succeeds, fails with a non-busy error, or
// retryAttempts is reached. Crawl results, ledger rows and notifications are
// written from different goroutines, so single inserts can briefly collide.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		if err = fn(); err == nil || !IsBusy(err) {
			return err
		}
		if attempt == retryAttempts {
			break
		}
		wait := time.NewTimer(time.Duration(attempt) * retryStep)
		select {
		case <-ctx.Done():
			wait.Stop()
			return fmt.Errorf("dbopen: retry: %w", ctx.Err())
		case <-wait.C:
		}
	}
	return fmt.Errorf("dbopen: retry: gave up after %d attempts: %w", retryAttempts, err)
}
