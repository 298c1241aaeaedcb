package database

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"modernc.org/sqlite"

	"github.com/danielyj147/osrd/errs"
)

// SQLite primary result codes.
const (
	sqliteBusy       = 5
	sqliteLocked     = 6
	sqliteConstraint = 19
)

// Postgres SQLSTATE class for integrity constraint violations.
const pgIntegrityClass = "23"

// classifiers lets optional drivers (cgo builds) add their own error types.
var classifiers []func(error) (constraint bool, ok bool)

// Classify lifts a driver error into the error taxonomy. Uniqueness, foreign
// key, not-null and check failures become ConstraintViolation and SQLite lock
// timeouts become a retryable Busy error. Anything else is returned unchanged.
// Classify(nil) is nil.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if IsConstraint(err) {
		return errs.ConstraintViolation(err, message)
	}
	if IsBusy(err) {
		return errs.Busy(err, message)
	}
	return err
}

// IsConstraint reports whether err is an integrity constraint failure from any
// of the registered drivers.
func IsConstraint(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code.Class()) == pgIntegrityClass
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgIntegrityClass
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code()&0xff == sqliteConstraint
	}

	for _, classify := range classifiers {
		if constraint, ok := classify(err); ok {
			return constraint
		}
	}
	return false
}

// IsBusy reports whether SQLite refused the statement because the database was
// locked by another connection.
func IsBusy(err error) bool {
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}
	return false
}

// IsNoRows reports whether err is the database/sql empty result sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
