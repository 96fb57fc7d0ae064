package tileoverlay

import (
	"fmt"
)

// ValidationError is returned when input supplied by the user, or received
// from the host page, is missing or malformed. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Msg
}

// Validationf returns a new ValidationError
func Validationf(format string, a ...interface{}) error {
	return &ValidationError{Msg: fmt.Sprintf(format, a...)}
}

// DecodeError is returned when a template source image or a persisted chunk
// cannot be decoded. Nothing is registered when one occurs.
type DecodeError struct {
	What string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.What, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CompositingError describes a tile that could not be merged. It is only
// ever logged; the caller always receives the original tile bytes.
type CompositingError struct {
	Key string
	Err error
}

func (e *CompositingError) Error() string {
	return fmt.Sprintf("compositing tile %s: %v", e.Key, e.Err)
}

func (e *CompositingError) Unwrap() error {
	return e.Err
}

// PersistenceError is returned when the store cannot be reached. In-memory
// templates remain usable.
type PersistenceError struct {
	Scope string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting scope %q: %v", e.Scope, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
