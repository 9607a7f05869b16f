package connection

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the store and adapters; match with errors.Is.
var (
	ErrNotFound          = errors.New("connection not found")
	ErrValidation        = errors.New("invalid connection")
	ErrUnsupportedType   = errors.New("unsupported connection type")
	ErrStorage           = errors.New("connection storage failure")
	ErrMalformedResponse = errors.New("malformed response")
)

// ValidationError reports a rejected input field. It matches ErrValidation
// under errors.Is and unwraps to its cause, if any.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func (e *ValidationError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}
