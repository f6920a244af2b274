// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file centralizes the error kinds the layer surfaces.
//
// Error semantics:
//   - When a record is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - Caller mistakes (blank username, non-positive ids, oversize content)
//     surface as errors wrapping ErrInvalidInput.
//   - Everything the database itself fails at is wrapped in *StorageError so
//     services can map the whole family with a single errors.As check.
package repo

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for consistency across the service layer.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrInvalidInput tags validation failures detected before touching the store.
var ErrInvalidInput = errors.New("invalid input")

// StorageError wraps a database failure with the operation that produced it.
// It is the single tagged kind distinguishing store faults from validation.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return "storage: " + e.Op + ": " + e.Err.Error()
}

// Unwrap exposes the underlying driver error to errors.Is/As.
func (e *StorageError) Unwrap() error { return e.Err }

// storageErr wraps err as a *StorageError for the given operation.
func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// invalidf wraps ErrInvalidInput with a formatted message.
func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
