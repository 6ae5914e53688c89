// Package apperror classifies failures so the HTTP boundary can map them to a
// stable status code and message.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind identifies the class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
	KindCompensation
	KindTransport
	KindUnauthenticated
	KindForbidden
	KindTooLarge
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_failed"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream_error"
	case KindCompensation:
		return "compensation_failed"
	case KindTransport:
		return "transport_error"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// Error is a classified error.
//
// Status is only meaningful for KindUpstream, where it carries the status code
// reported by the identity provider or the platform service.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the status code the error is answered with.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		if e.Status >= 400 && e.Status <= 599 {
			return e.Status
		}
		return http.StatusInternalServerError
	case KindTransport:
		return http.StatusServiceUnavailable
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// Validation reports a caller-correctable problem. Details usually holds the
// per-field messages.
func Validation(message string, details any) *Error {
	return &Error{Kind: KindValidation, Message: message, Details: details}
}

func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream reports an application-level error returned by the identity
// provider or the platform service.
func Upstream(status int, message string, details any) *Error {
	return &Error{Kind: KindUpstream, Status: status, Message: message, Details: details}
}

func Transport(message string, err error) *Error {
	return &Error{Kind: KindTransport, Message: message, Err: err}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

// TooLarge reports a request that does not fit the platform transport.
func TooLarge(message string) *Error {
	return &Error{Kind: KindTooLarge, Message: message}
}

// CompensationError records a rollback that failed after a side-effecting
// step had already failed. Both errors are kept for logging.
type CompensationError struct {
	Operation  string
	Original   error
	Compensate error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("%s: compensation failed: %v (original error: %v)", e.Operation, e.Compensate, e.Original)
}

func (e *CompensationError) Unwrap() []error {
	return []error{e.Original, e.Compensate}
}

// Compensation wraps a failed rollback. The system is inconsistent after this
// error and needs manual reconciliation.
func Compensation(operation string, original, compensate error) *Error {
	return &Error{
		Kind:    KindCompensation,
		Message: "compensation failed",
		Err: &CompensationError{
			Operation:  operation,
			Original:   original,
			Compensate: compensate,
		},
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindUnknown
}

// IsStatus reports whether err is an upstream error carrying the given status.
func IsStatus(err error, status int) bool {
	appErr, ok := As(err)
	return ok && appErr.Kind == KindUpstream && appErr.Status == status
}
