package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the services branch on.
const (
	CodeUniqueViolation   = "23505"
	CodeCheckViolation    = "23514"
	CodeLockNotAvailable  = "55P03"
	CodeQueryCanceled     = "57014"
	CodeDeadlockDetected  = "40P01"
	CodeExclusionViolated = "23P01"
)

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// ConstraintName returns the violated constraint, if the server reported one.
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return Code(err) == CodeUniqueViolation
}

// IsLockTimeout covers lock_timeout expiry, statement_timeout cancellation and
// deadlock victims: each means the row was contested, not that it is missing.
func IsLockTimeout(err error) bool {
	switch Code(err) {
	case CodeLockNotAvailable, CodeQueryCanceled, CodeDeadlockDetected:
		return true
	default:
		return false
	}
}
