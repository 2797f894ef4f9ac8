package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/survey-participation/internal/repository"
)

// Retry policy for transient MySQL failures (deadlocks, lock wait
// timeouts).  Attempts are bounded; backoff doubles from the base.
const (
	maxAttempts = 3
	baseBackoff = 50 * time.Millisecond
)

// Retry runs fn up to maxAttempts times, sleeping between attempts when
// the failure is transient.  Non-transient errors return immediately.
func Retry(ctx context.Context, fn func() error) error {
	backoff := baseBackoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn()
		if err == nil || !repository.IsTransient(err) {
			return err
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("retries exhausted: %w", err)
}

// WithTx begins a transaction, runs fn and commits.  Any error from fn
// or commit rolls the transaction back and is returned.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return nil
}

// Runner combines WithTx and Retry: each attempt gets a fresh
// transaction, so a deadlock victim replays from a clean slate.
type Runner struct {
	DB *sql.DB
}

// RunInTx runs fn inside its own transaction, retrying transient
// failures with bounded backoff.
func (r *Runner) RunInTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return Retry(ctx, func() error {
		return WithTx(ctx, r.DB, fn)
	})
}
