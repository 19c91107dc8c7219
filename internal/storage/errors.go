package storage

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	// ErrAPIKeyNotFound is returned when an API key is not found
	ErrAPIKeyNotFound = errors.New("API key not found")

	// ErrAPIKeyExpired is returned by Lookup for a key past its expiry
	ErrAPIKeyExpired = errors.New("API key expired")

	// ErrCacheRecordNotFound is returned when no cache record exists for a hash
	ErrCacheRecordNotFound = errors.New("cache record not found")

	// ErrDuplicateKey is returned when an insert violates a uniqueness constraint
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrPersistence wraps every other storage failure
	ErrPersistence = errors.New("persistence error")
)

func persistenceError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// isUniqueViolation detects unique constraint failures on both drivers
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}

	return false
}
