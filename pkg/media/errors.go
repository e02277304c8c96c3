package media

import (
	"errors"
	"fmt"
)

// ============================================================================
// Error Taxonomy
// ============================================================================

// Every component (backends, catalog, registry, dedup engine, upload
// coordinator) reports failures through *Error so callers can branch on the
// category without knowing which layer produced it.
//
// Usage Pattern:
//
//	rec, err := store.Put(ctx, path, opts)
//	if err != nil {
//	    switch {
//	    case errors.Is(err, media.ErrNotFound):
//	        return http.StatusNotFound
//	    case errors.Is(err, media.ErrValidation):
//	        return http.StatusBadRequest
//	    }
//	    return http.StatusInternalServerError
//	}

// ErrorCode represents the category of a media storage error.
type ErrorCode int

const (
	// CodeNotFound indicates a FileRecord, backend object or upload session
	// does not exist.
	CodeNotFound ErrorCode = iota + 1

	// CodeConflict indicates a uniqueness or state-transition collision.
	// Examples: duplicate content hash on insert, a second concurrent merge.
	CodeConflict

	// CodeValidation indicates the caller supplied invalid input.
	// Examples: chunk index out of range, hash mismatch, size mismatch,
	// unknown driver name.
	CodeValidation

	// CodeBackend indicates a network, auth or quota failure from a storage
	// provider. The provider's own error is always wrapped.
	CodeBackend

	// CodeConsistency indicates the catalog claims bytes exist that are
	// missing on disk or in the backend ("uploaded then lost").
	CodeConsistency
)

// Sentinel errors, one per code. *Error matches them through errors.Is.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation failed")
	ErrBackend     = errors.New("storage backend error")
	ErrConsistency = errors.New("consistency fault")
)

// String returns the lowercase category name used in logs and metrics.
func (c ErrorCode) String() string {
	switch c {
	case CodeNotFound:
		return "not_found"
	case CodeConflict:
		return "conflict"
	case CodeValidation:
		return "validation"
	case CodeBackend:
		return "backend"
	case CodeConsistency:
		return "consistency"
	default:
		return "unknown"
	}
}

func (c ErrorCode) sentinel() error {
	switch c {
	case CodeNotFound:
		return ErrNotFound
	case CodeConflict:
		return ErrConflict
	case CodeValidation:
		return ErrValidation
	case CodeBackend:
		return ErrBackend
	case CodeConsistency:
		return ErrConsistency
	default:
		return nil
	}
}

// Error is a categorized media storage error.
type Error struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Path is the key, file id or session id the error relates to (if any)
	Path string

	// Err is the underlying cause, if any (provider error, I/O error)
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel for this error's code.
func (e *Error) Is(target error) bool {
	s := e.Code.sentinel()
	return s != nil && target == s
}

// NotFound builds a CodeNotFound error.
func NotFound(message, path string) error {
	return &Error{Code: CodeNotFound, Message: message, Path: path}
}

// Conflict builds a CodeConflict error.
func Conflict(message, path string) error {
	return &Error{Code: CodeConflict, Message: message, Path: path}
}

// Conflictf builds a CodeConflict error with a formatted message.
func Conflictf(path, format string, args ...any) error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...), Path: path}
}

// Validation builds a CodeValidation error.
func Validation(message, path string) error {
	return &Error{Code: CodeValidation, Message: message, Path: path}
}

// Validationf builds a CodeValidation error with a formatted message.
func Validationf(path, format string, args ...any) error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...), Path: path}
}

// ConsistencyFault builds a CodeConsistency error.
func ConsistencyFault(message, path string, cause error) error {
	return &Error{Code: CodeConsistency, Message: message, Path: path, Err: cause}
}

// BackendError wraps a provider error. The message names the provider and
// the operation so logs identify the failing call.
//
// A nil cause returns nil so call sites can wrap unconditionally.
func BackendError(provider, op, key string, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{
		Code:    CodeBackend,
		Message: fmt.Sprintf("%s %s failed", provider, op),
		Path:    key,
		Err:     cause,
	}
}

// CodeOf returns the category of err, or 0 when err is not (and does not
// wrap) an *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsNotFound is shorthand for errors.Is(err, ErrNotFound).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict is shorthand for errors.Is(err, ErrConflict).
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
