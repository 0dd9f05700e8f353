package models

import (
	"errors"
	"fmt"
)

// Sentinel error kinds. Callers classify failures with errors.Is and the API
// layer maps each kind to an HTTP status.
var (
	ErrValidation = errors.New("validation error")
	ErrState      = errors.New("state error")
	ErrContention = errors.New("contention error")
	ErrStorage    = errors.New("storage error")
	ErrNotFound   = errors.New("not found")
)

// ValidationErrorf wraps ErrValidation with the offending field named.
func ValidationErrorf(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrValidation, field, fmt.Sprintf(format, args...))
}

// StateErrorf wraps ErrState.
func StateErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrState, fmt.Sprintf(format, args...))
}

// ContentionErrorf wraps ErrContention.
func ContentionErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrContention, fmt.Sprintf(format, args...))
}

// StorageErrorf wraps ErrStorage.
func StorageErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrStorage, fmt.Sprintf(format, args...))
}

// NotFoundErrorf wraps ErrNotFound.
func NotFoundErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}
