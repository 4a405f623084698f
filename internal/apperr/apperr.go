// Package apperr is the system's single error taxonomy. It mirrors the
// chain adapter's three-way error classification (retryable / non-retryable
// / user-intervention) and extends it with an HTTP status mapping so
// handlers translate domain errors into responses without re-deriving
// classification ad hoc.
package apperr

import (
	"errors"
	"fmt"
)

// Classification says whether a background worker should retry an error.
type Classification int

const (
	// Retryable errors are transient — backoff and retry.
	Retryable Classification = iota
	// NonRetryable errors will never succeed on retry — terminal failure.
	NonRetryable
	// UserIntervention errors require the caller to change its request.
	UserIntervention
)

// Kind is the error's position in the propagation policy of §7.
type Kind int

const (
	KindValidation Kind = iota
	KindAuthentication
	KindStateConflict
	KindNotFound
	KindUpstreamUnavailable
	KindRateLimited
	KindInternal
	KindNotImplemented
)

// httpStatus maps a Kind to the status code handlers should return.
var httpStatus = map[Kind]int{
	KindValidation:          422,
	KindAuthentication:      403,
	KindStateConflict:       409,
	KindNotFound:            404,
	KindUpstreamUnavailable: 503,
	KindRateLimited:         429,
	KindInternal:            500,
	KindNotImplemented:      501,
}

// Error is the system's error type: a kind (drives HTTP status and
// propagation policy), a retry classification (drives worker behavior), a
// caller-safe detail string, and an optional wrapped cause.
type Error struct {
	Kind           Kind
	Classification Classification
	Detail         string
	Cause          error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Detail, e.Cause)
	}
	return e.Detail
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus returns the status code a handler should respond with.
func (e *Error) HTTPStatus() int {
	if status, ok := httpStatus[e.Kind]; ok {
		return status
	}
	return 500
}

// IsRetryable reports whether a background worker should back off and retry.
func (e *Error) IsRetryable() bool {
	return e.Classification == Retryable
}

func New(kind Kind, classification Classification, detail string) *Error {
	return &Error{Kind: kind, Classification: classification, Detail: detail}
}

func Wrap(kind Kind, classification Classification, detail string, cause error) *Error {
	return &Error{Kind: kind, Classification: classification, Detail: detail, Cause: cause}
}

func Validation(detail string) *Error {
	return New(KindValidation, UserIntervention, detail)
}

func Authentication(detail string) *Error {
	return New(KindAuthentication, UserIntervention, detail)
}

func StateConflict(detail string) *Error {
	return New(KindStateConflict, UserIntervention, detail)
}

func NotFound(detail string) *Error {
	return New(KindNotFound, NonRetryable, detail)
}

func UpstreamUnavailable(detail string, cause error) *Error {
	return Wrap(KindUpstreamUnavailable, Retryable, detail, cause)
}

func RateLimited(detail string) *Error {
	return New(KindRateLimited, UserIntervention, detail)
}

func Internal(detail string, cause error) *Error {
	return Wrap(KindInternal, NonRetryable, detail, cause)
}

func NotImplemented(detail string) *Error {
	return New(KindNotImplemented, NonRetryable, detail)
}

// IsRetryable reports whether err (or a wrapped *Error within it) indicates
// a worker should back off and retry.
func IsRetryable(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}
	return false
}

// As is a convenience wrapper over errors.As for *Error.
func As(err error, target **Error) bool {
	return errors.As(err, target)
}
