// Package sentinel holds the infrastructure errors stores return. Services
// translate them into coded domain errors at their boundary; callers outside
// the core never see them directly.
package sentinel

import "errors"

var (
	// ErrNotFound: no row or record with the requested id.
	ErrNotFound = errors.New("not found")
	// ErrConflict: a record with the same id already exists.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState: the record is not in the state the write expected,
	// e.g. retiring a key that is no longer active.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnavailable: the backing store cannot be reached.
	ErrUnavailable = errors.New("unavailable")
)
