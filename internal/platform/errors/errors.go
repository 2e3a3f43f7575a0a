// Package errors defines the typed business errors exchanged between the
// repository, service and handler layers. Every failure carries a stable
// machine-readable code plus a human-readable message; callers branch on the
// code, never on message text.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code is a stable machine-readable error code.
type Code string

const (
	// ErrCodeNotFound — a referenced approval, user or target does not exist
	// or is soft-deleted.
	ErrCodeNotFound Code = "NOT_FOUND"
	// ErrCodeAlreadyProcessed — an operation that requires a PENDING approval
	// was invoked on a terminal one.
	ErrCodeAlreadyProcessed Code = "ALREADY_PROCESSED"
	// ErrCodeNotAuthorized — the acting user is not the approver of the
	// currently active step.
	ErrCodeNotAuthorized Code = "NOT_AUTHORIZED"
	// ErrCodeInvalidStep — no approval line matches the current step. This is
	// a data-corruption signal, not a user error.
	ErrCodeInvalidStep Code = "INVALID_STEP"
	// ErrCodeInvalidInput — request validation failure.
	ErrCodeInvalidInput Code = "INVALID_INPUT"
	// ErrCodeConflict — a storage uniqueness violation (e.g. a numbering
	// race); the caller should re-run the whole operation.
	ErrCodeConflict Code = "CONFLICT"
	// ErrCodeUnauthorized — the acting user could not be established.
	ErrCodeUnauthorized Code = "UNAUTHORIZED"
	// ErrCodeInternal — anything else.
	ErrCodeInternal Code = "INTERNAL"
)

// Error is a business error with a stable code. It wraps an optional cause.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound creates a NOT_FOUND error for a named resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %q not found", resource, id)
}

// InvalidInput creates an INVALID_INPUT error for a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeInvalidInput, "%s: %s", field, message)
}

// CodeOf returns the code of err, unwrapping as needed.
// Non-typed errors report ErrCodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// MessageOf returns the business message of err. Non-typed errors collapse to
// a generic message so internal detail never reaches a client.
func MessageOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

// HTTPStatus maps an error code to the HTTP status the API responds with.
func HTTPStatus(code Code) int {
	switch code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeNotAuthorized:
		return http.StatusForbidden
	case ErrCodeAlreadyProcessed, ErrCodeConflict:
		return http.StatusConflict
	case ErrCodeInvalidInput:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
