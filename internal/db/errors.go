package db

import (
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

var (
	ErrConstraintViolation = errors.New("constraint violation")
	ErrNotFound            = errors.New("task not found")
	ErrCycle               = errors.New("task cannot be moved under itself or its descendants")
)

// StorageError wraps a failure reported by the database driver.
type StorageError struct {
	Op  string
	Err error

	constraint bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func (e *StorageError) Is(target error) bool {
	return target == ErrConstraintViolation && e.constraint
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCycle) || errors.Is(err, ErrConstraintViolation) {
		return err
	}

	wrapped := &StorageError{Op: op, Err: err}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		wrapped.constraint = true
	}
	return wrapped
}
