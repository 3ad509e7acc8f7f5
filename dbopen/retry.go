package dbopen

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Tree saves, rate-limit reloads and route lookups share one SQLite
// file, so writers occasionally collide. Short linear backoff clears
// transient BUSY errors without the caller noticing.
var busyBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	300 * time.Millisecond,
}

// IsBusy reports whether err is a transient SQLite locking error
// (SQLITE_BUSY or a locked database/table) worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// RunTx runs fn inside a transaction, retrying the whole transaction on
// BUSY. fn must be safe to re-run from scratch.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	var err error
	for attempt := range len(busyBackoff) {
		if err = inTx(ctx, db, fn); err == nil {
			return nil
		}
		if !IsBusy(err) {
			return err
		}
		if waitErr := sleepCtx(ctx, busyBackoff[attempt]); waitErr != nil {
			return fmt.Errorf("dbopen: context cancelled during retry: %w", waitErr)
		}
	}
	return fmt.Errorf("dbopen: RunTx: retries exhausted: %w", err)
}

// Exec runs a single statement, retrying on BUSY with the same backoff
// as RunTx.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	var err error
	for attempt := range len(busyBackoff) {
		var result sql.Result
		if result, err = db.ExecContext(ctx, query, args...); err == nil {
			return result, nil
		}
		if !IsBusy(err) {
			return nil, err
		}
		if waitErr := sleepCtx(ctx, busyBackoff[attempt]); waitErr != nil {
			return nil, fmt.Errorf("dbopen: context cancelled during retry: %w", waitErr)
		}
	}
	return nil, fmt.Errorf("dbopen: Exec: retries exhausted: %w", err)
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
