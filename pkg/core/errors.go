package core

import (
	"errors"
	"fmt"
)

// Common errors
var (
	// ErrSchema is returned for invalid attribute or index definitions.
	ErrSchema = errors.New("invalid schema definition")

	// ErrIncompatibleSchema is returned when the on-disk schema version is
	// older than this library supports. The store refuses to open.
	ErrIncompatibleSchema = errors.New("incompatible schema version")

	// ErrUnknownType is returned when an unregistered object type is named.
	ErrUnknownType = errors.New("unknown object type")

	// ErrUnknownAttribute is returned when a referenced attribute is not
	// registered for the object type.
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrTypeMismatch is returned when a value's type disagrees with the
	// attribute's declared type after coercion.
	ErrTypeMismatch = errors.New("attribute type mismatch")

	// ErrValidation is returned for malformed queries or filter shapes.
	ErrValidation = errors.New("invalid query")

	// ErrNotFound is returned when an object id does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrStoreClosed is returned when trying to use a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// StoreError wraps errors with operation context.
type StoreError struct {
	Op  string // Operation name
	Err error  // Underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("objstore: %v", e.Err)
	}
	return fmt.Sprintf("objstore: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// wrapError wraps an error with operation context.
func wrapError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}
