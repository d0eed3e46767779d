package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors sharing the same code so wrapped clones still compare equal to the predefined values.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok || t == nil {
		return false
	}
	return t.Code == e.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrConflict           = New("CONFLICT", http.StatusConflict, "conflict")
	ErrPreconditionFailed = New("PRECONDITION_FAILED", http.StatusPreconditionFailed, "precondition failed")
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss          = New("CACHE_MISS", http.StatusNotFound, "cache miss")

	ErrCatalogUnavailable  = New("CATALOG_UNAVAILABLE", http.StatusServiceUnavailable, "course catalog unavailable")
	ErrIllegalTransition   = New("ILLEGAL_TRANSITION", http.StatusConflict, "transition not allowed from current step")
	ErrOperationInFlight   = New("OPERATION_IN_FLIGHT", http.StatusConflict, "another operation is already running for this registration")
	ErrRegistrationLocked  = New("REGISTRATION_LOCKED", http.StatusConflict, "selection is locked by records already submitted")
	ErrSubmissionFailed    = New("SUBMISSION_FAILED", http.StatusBadGateway, "registration submission failed")
	ErrCapacityConflict    = New("COURSE_CAPACITY_REACHED", http.StatusConflict, "course capacity reached")
	ErrRemoteUnavailable   = New("REMOTE_UNAVAILABLE", http.StatusBadGateway, "remote ERP service unavailable")
	ErrRemoteRejected      = New("REMOTE_REJECTED", http.StatusBadGateway, "remote ERP service rejected the request")
	ErrInvalidSlipToken    = New("INVALID_SLIP_TOKEN", http.StatusForbidden, "invalid or expired slip link")
	ErrRegistrationPending = New("REGISTRATION_PENDING", http.StatusConflict, "registration has not been confirmed yet")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
