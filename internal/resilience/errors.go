package resilience

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"
)

// ErrRetriesExhausted marks a write that kept conflicting until the retry
// budget ran out.
var ErrRetriesExhausted = eris.New("resilience: retries exhausted")

// TransientError wraps an error that may succeed if the caller tries again
// later (e.g. exhausted conflict retries).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps err as transient.
func NewTransientError(err error) *TransientError {
	return &TransientError{Err: err}
}

// IsTransient returns true if err (or any error in its chain) is a
// TransientError or a storage conflict.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	return IsConflict(err)
}

// ConflictError marks a concurrent-update conflict raised by a store.
type ConflictError struct {
	Err error
}

func (e *ConflictError) Error() string {
	return e.Err.Error()
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// NewConflictError wraps err as a conflict.
func NewConflictError(err error) *ConflictError {
	return &ConflictError{Err: err}
}

// SQLite primary result codes that signal contention.
const (
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteConstraint = 19
	// SQLITE_CONSTRAINT_UNIQUE and SQLITE_CONSTRAINT_PRIMARYKEY.
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
)

// Postgres SQLSTATEs that signal contention.
var pgConflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation
	"55P03": true, // lock_not_available
}

// IsConflict reports whether err is a concurrent-update conflict that is
// safe to retry: explicit ConflictError, SQLite busy/locked/unique
// violations, or Postgres serialization, deadlock and unique violations.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}

	var ce *ConflictError
	if errors.As(err, &ce) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgConflictCodes[pgErr.Code]
	}

	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		code := coded.Code()
		switch code {
		case sqliteConstraintUnique, sqliteConstraintPrimaryKey:
			return true
		}
		switch code & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		case sqliteConstraint:
			return false
		}
	}

	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"database is locked",
		"database table is locked",
		"sqlite_busy",
		"could not serialize access",
		"deadlock detected",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
