package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the reconciliation code reacts to.
const (
	CodeUniqueViolation       = "23505"
	CodeForeignKeyViolation   = "23503"
	CodeExclusionViolation    = "23P01"
	CodeInsufficientPrivilege = "42501"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint failure.
func IsUniqueViolation(err error) bool { return pgCode(err) == CodeUniqueViolation }

// IsForeignKeyViolation reports whether err is a missing referenced row.
func IsForeignKeyViolation(err error) bool { return pgCode(err) == CodeForeignKeyViolation }

// IsExclusionViolation reports whether err is an exclusion constraint failure.
func IsExclusionViolation(err error) bool { return pgCode(err) == CodeExclusionViolation }

// IsConstraintViolation reports whether err is a uniqueness or exclusion
// failure, the two violations identifier minting retries on.
func IsConstraintViolation(err error) bool {
	switch pgCode(err) {
	case CodeUniqueViolation, CodeExclusionViolation:
		return true
	}
	return false
}

// IsInsufficientPrivilege reports whether the server refused the statement
// for lack of permission.
func IsInsufficientPrivilege(err error) bool { return pgCode(err) == CodeInsufficientPrivilege }

// IsDataError reports whether err is a class 22 or class 23 error caused by the
// submitted values rather than by the statement.
func IsDataError(err error) bool {
	code := pgCode(err)
	return len(code) == 5 && (code[:2] == "22" || code[:2] == "23")
}

// IsNoRows reports whether err means a single-row query matched nothing.
func IsNoRows(err error) bool { return errors.Is(err, pgx.ErrNoRows) }
