package registry

import "errors"

// Kind classifies a registry error.
type Kind string

// Error kinds.
const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindUnsupportedType Kind = "unsupported_type"
	KindStorage         Kind = "storage"
	KindCancelled       Kind = "cancelled"
)

// Error is returned by every Registry operation that fails. Message is safe
// to show to callers; Err holds the internal cause for logging.
type Error struct {
	Kind    Kind
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindStorage for foreign errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindStorage
}
