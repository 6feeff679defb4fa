package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/tinyauth/tinyauth/repositories"
)

// uniqueViolation is the PostgreSQL error code for unique constraint
// violations.
const uniqueViolation = "23505"

// notFoundErr wraps a missing-row result so callers can test with
// errors.Is(err, repositories.ErrNotFound).
func notFoundErr(what, key string) error {
	return fmt.Errorf("%s not found: %s: %w", what, key, repositories.ErrNotFound)
}

// mapWriteError classifies driver errors from inserts and updates.
func mapWriteError(err error, what, key string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return fmt.Errorf("%s %s: %w", what, key, repositories.ErrAlreadyExists)
	}
	return fmt.Errorf("failed to write %s %s: %w", what, key, err)
}

// isNoRows reports whether err is the empty-result sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
