package oasis

import (
	"errors"
	"strings"
)

// Error is the oasis error domain type.
//
// Errors coming from oasis components should be able to be inspected as
// ([errors.As]) an *Error at some point in the error chain.
//
// Components should create an Error at the system boundary (e.g. when talking
// to the database or the object store) and intermediate layers should not wrap
// in another Error except to add additional [ErrorKind] information. That is
// to say, use [fmt.Errorf] with a "%w" verb in preference to creating a
// containing Error.
type Error struct {
	Inner   error
	Kind    ErrorKind
	Message string
	Op      string
	// Code refines Kind for wire responses when one status maps to several
	// recovery paths (e.g. "not_pending" vs "not_found_in_storage" on
	// upload confirmation). Empty means the kind itself is the code.
	Code string
}

// Assert this implements all the cool features.
var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(" ")
	}
	b.WriteString("[")
	switch e.Kind {
	case ErrConflict,
		ErrForbidden,
		ErrInternal,
		ErrNotFound,
		ErrStorageUnavailable,
		ErrUnauthorized,
		ErrValidation:
		b.WriteString(string(e.Kind))
	default:
		b.WriteString("???")
	}
	b.WriteString("]: ")
	if e.Message != "" {
		b.WriteString(e.Message)
	}
	if e.Message != "" && e.Inner != nil {
		b.WriteString(": ")
	}
	if e.Op == "" && e.Message == "" {
		b.Reset()
	}
	if e.Inner != nil {
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is].
//
// It compares the error kind. Callers should compare against a declared
// [ErrorKind] over a specific error.
func (e *Error) Is(kind error) bool {
	return errors.Is(e.Kind, kind)
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error {
	return e.Inner
}

// ErrorKind represents classes of errors to be checked against.
//
// If an error is unsure which kind to use, ErrInternal should be used. The
// HTTP surfaces translate kinds into status codes exactly once, at the edge;
// nothing below the transport layer should reason about status codes.
type ErrorKind string

// Defined error kinds.
var (
	ErrValidation         = ErrorKind("validation")          // malformed or semantically invalid input
	ErrUnauthorized       = ErrorKind("unauthorized")        // missing, malformed, or revoked credential
	ErrForbidden          = ErrorKind("forbidden")           // authenticated but not permitted
	ErrNotFound           = ErrorKind("not_found")           // referenced entity or object does not exist
	ErrConflict           = ErrorKind("conflict")            // uniqueness or state-machine violation
	ErrStorageUnavailable = ErrorKind("storage_unavailable") // object store unconfigured or unreachable
	ErrInternal           = ErrorKind("internal")            // non-specific internal error
)

// Error implements error.
func (e ErrorKind) Error() string {
	return string(e)
}
