// Package apperr defines the error taxonomy shared by the ticket engine and its
// HTTP/Slack surfaces.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes
const (
	CodeValidation  = "VALIDATION_FAILED"
	CodeNotFound    = "NOT_FOUND"
	CodePolicy      = "POLICY_VIOLATION"
	CodeUnavailable = "STORE_UNAVAILABLE"
	CodeInternal    = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Retryable  bool
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewValidation reports malformed caller input.
func NewValidation(message string, details map[string]any) error {
	return &DomainError{
		Code:       CodeValidation,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Details:    details,
	}
}

// NewNotFound reports a missing ticket or escalation.
func NewNotFound(resource string, id any) error {
	return &DomainError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %v not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// NewPolicy reports an operation the lifecycle rules refuse, such as
// escalating a closed ticket.
func NewPolicy(message string) error {
	return &DomainError{
		Code:       CodePolicy,
		Message:    message,
		HTTPStatus: http.StatusUnprocessableEntity,
	}
}

// NewUnavailable wraps a persistence failure. The caller may retry.
func NewUnavailable(op string, err error) error {
	return &DomainError{
		Code:       CodeUnavailable,
		Message:    op + " failed",
		HTTPStatus: http.StatusServiceUnavailable,
		Retryable:  true,
		Err:        err,
	}
}

// ToDomainError converts any error into a DomainError, defaulting to an
// internal error.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Retryable
}
