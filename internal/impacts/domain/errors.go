package impacts

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidEncoding is returned when a storage encoding is unknown.
	ErrInvalidEncoding = errors.New("impacts: invalid encoding")
	// ErrInvalidTimeUnit is returned when a since value has an unknown unit.
	ErrInvalidTimeUnit = errors.New("impacts: invalid time unit")
	// ErrNilGeometry is returned when an equipment query carries no geometry.
	ErrNilGeometry = errors.New("impacts: nil geometry")
)

// ValidationError describes one rejected input field.
// It mirrors the detail entries returned to API clients.
type ValidationError struct {
	Type  string `json:"type"`
	Loc   []any  `json:"loc"`
	Msg   string `json:"msg"`
	Input any    `json:"input"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Loc))
	for _, item := range e.Loc {
		parts = append(parts, fmt.Sprint(item))
	}
	return fmt.Sprintf("validation: %s: %s", strings.Join(parts, "."), e.Msg)
}

// ValidationErrors groups every field error found in one request.
type ValidationErrors []*ValidationError

func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation: no errors"
	case 1:
		return e[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", e[0].Error(), len(e)-1)
}

// Unwrap exposes the individual errors to errors.As.
func (e ValidationErrors) Unwrap() []error {
	errs := make([]error, 0, len(e))
	for _, item := range e {
		errs = append(errs, item)
	}
	return errs
}

// Err returns nil when no entry was collected.
func (e ValidationErrors) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Details returns the entries in client order.
func (e ValidationErrors) Details() []*ValidationError {
	return []*ValidationError(e)
}

// AsValidation collects validation entries from err, if any.
func AsValidation(err error) (ValidationErrors, bool) {
	var many ValidationErrors
	if errors.As(err, &many) {
		return many, len(many) > 0
	}
	var single *ValidationError
	if errors.As(err, &single) {
		return ValidationErrors{single}, true
	}
	return nil, false
}

// StorageError wraps a failure of the event store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	if e.Err == nil {
		return "storage: " + e.Op
	}
	return "storage: " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorageError wraps err, or returns nil when err is nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err originates in the event store.
func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
