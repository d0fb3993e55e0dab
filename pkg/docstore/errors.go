package docstore

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors. Each wraps [ErrValidation] and is returned before any
// medium is touched.
var (
	ErrValidation  = errors.New("validation failed")
	ErrInvalidKey  = fmt.Errorf("%w: invalid key", ErrValidation)
	ErrInvalidID   = fmt.Errorf("%w: invalid identifier", ErrValidation)
	ErrInvalidData = fmt.Errorf("%w: invalid data", ErrValidation)
)

var (
	// ErrNotFound reports a missing document on GetDocument and
	// DeleteDocument. A missing key is not an error: Get reports it through
	// its found result.
	ErrNotFound = errors.New("document not found")

	// ErrLockUnavailable reports that the storage target is locked by
	// another holder at open time.
	ErrLockUnavailable = errors.New("storage locked")

	// ErrTransport reports an I/O failure of the underlying medium (file,
	// network or engine). It always wraps the original cause.
	ErrTransport = errors.New("transport error")

	// ErrConsistency reports that a remote write could not be verified by
	// reading it back. The previously committed state is unchanged.
	ErrConsistency = errors.New("consistency check failed")

	// ErrClosed reports use of a backend after Close.
	ErrClosed = errors.New("storage closed")

	// ErrNotOpen reports use of a backend before Open.
	ErrNotOpen = errors.New("storage not open")

	// ErrAlreadyOpen reports a second Open on the same backend.
	ErrAlreadyOpen = errors.New("storage already open")

	// ErrUnknownBackend reports a backend name no medium is registered for.
	ErrUnknownBackend = errors.New("unknown backend")
)

// Error is the error type returned by all [Storage] methods.
//
// The underlying error message appears first, followed by context:
//
//	storage locked (op=open)
//	document not found (op=get_document id=01aa...)
//
// Use [errors.As] to extract fields and [errors.Is] for sentinels.
type Error struct {
	// Op is the facade operation, e.g. "put" or "get_document".
	Op string

	// ID is the document identifier, empty for store-level operations.
	ID string

	// Key is the document key, empty for document-level operations.
	Key string

	// Err is the underlying cause.
	Err error
}

// Error formats as "<cause> (op=X id=Y key=Z)".
func (e *Error) Error() string {
	if e == nil {
		return ""
	}

	var parts []string

	if e.Op != "" {
		parts = append(parts, "op="+e.Op)
	}

	if e.ID != "" {
		parts = append(parts, "id="+e.ID)
	}

	if e.Key != "" {
		parts = append(parts, "key="+e.Key)
	}

	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}

	if len(parts) == 0 {
		return cause
	}

	suffix := "(" + strings.Join(parts, " ") + ")"
	if cause == "" {
		return suffix
	}

	return cause + " " + suffix
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}

	return e.Err
}

// withContext attaches operation context. If err is already *Error, missing
// fields are filled in place.
func withContext(err error, op, id, key string) error {
	if err == nil {
		return nil
	}

	existing := &Error{}
	if errors.As(err, &existing) {
		if existing.Op == "" {
			existing.Op = op
		}

		if existing.ID == "" {
			existing.ID = id
		}

		if existing.Key == "" {
			existing.Key = key
		}

		return existing
	}

	return &Error{Op: op, ID: id, Key: key, Err: err}
}

// Transport wraps cause as a medium I/O failure. Returns nil if cause is nil.
// An error that already matches [ErrTransport] or [ErrConsistency] is only
// annotated with what.
func Transport(what string, cause error) error {
	if cause == nil {
		return nil
	}

	if errors.Is(cause, ErrTransport) || errors.Is(cause, ErrConsistency) {
		return fmt.Errorf("%s: %w", what, cause)
	}

	return fmt.Errorf("%w: %s: %w", ErrTransport, what, cause)
}
