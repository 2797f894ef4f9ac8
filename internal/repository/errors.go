// Package repository provides data access to the MySQL schema.  All
// transactional methods take an explicit *sql.Tx and are suffixed Tx;
// the caller owns the transaction and is responsible for committing or
// rolling back.  Timestamps are UTC throughout.
//
// This file defines sentinel errors reused across repositories so that
// higher layers can distinguish failure scenarios without string
// matching.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrForbidden is returned when the caller attempts an operation on a
// resource they do not own.  Handlers translate this into HTTP 403.
var ErrForbidden = errors.New("forbidden")

// ErrConflict is returned when an operation cannot proceed because of
// conflicting state.  Handlers translate this into HTTP 409.
var ErrConflict = errors.New("conflict")

// Not-found sentinels, one per aggregate, translated into HTTP 404.
var (
	ErrReleaseNotFound       = errors.New("release not found")
	ErrOptionNotFound        = errors.New("option not found")
	ErrParticipationNotFound = errors.New("participation not found")
	ErrCapacityNotFound      = errors.New("capacity not found")
	ErrQuotaBucketNotFound   = errors.New("quota bucket not found")
)

// ErrEmailExists is returned when registering with an email that is
// already taken.
var ErrEmailExists = errors.New("email already exists")

// ErrDuplicateHold is returned by HoldRepo.CreateTx when the unique
// index over (user_id, option_id, ACTIVE) rejects a second active hold.
// The hold manager wraps it into a typed conflict for the caller.
var ErrDuplicateHold = errors.New("duplicate active hold")

// MySQL error numbers relevant to the taxonomy.
const (
	mysqlErrDuplicateEntry  = 1062
	mysqlErrLockWaitTimeout = 1205
	mysqlErrDeadlock        = 1213
)

// isDuplicateEntry reports whether err is a MySQL unique constraint
// violation.
func isDuplicateEntry(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlErrDuplicateEntry
}

// IsTransient reports whether err is a retryable MySQL failure: a
// deadlock or a lock wait timeout.  Transient errors are retried by the
// transaction helpers with bounded backoff.
func IsTransient(err error) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return false
	}
	return me.Number == mysqlErrDeadlock || me.Number == mysqlErrLockWaitTimeout
}
