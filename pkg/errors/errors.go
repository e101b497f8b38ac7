package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Status  int         `json:"status"`
	Details interface{} `json:"details,omitempty"`
	Err     error       `json:"-"`
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

// Is matches on Code so that cloned or wrapped copies of a predefined error compare equal.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// WrapAs wraps err using the code and status of a predefined error.
func WrapAs(err error, base *Error, message string) *Error {
	if message == "" {
		message = base.Message
	}
	return Wrap(err, base.Code, base.Status, message)
}

// WithDetails returns a copy of err carrying structured details for the client.
func WithDetails(err *Error, details interface{}) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Details = details
	return &clone
}

// Predefined errors for common scenarios.
var (
	ErrInvalidCredentials  = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "invalid email or password")
	ErrInactiveAccount     = New("ACCOUNT_INACTIVE", http.StatusForbidden, "account is inactive")
	ErrAccountLocked       = New("ACCOUNT_LOCKED", http.StatusLocked, "account is locked after too many failed attempts")
	ErrNotFound            = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden           = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrUnauthorized        = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrConflict            = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation          = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal            = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrFeatureDisabled     = New("FEATURE_DISABLED", http.StatusNotFound, "feature disabled")
	ErrPreflightRejected   = New("PREFLIGHT_REJECTED", http.StatusUnprocessableEntity, "some students have no selected consultation records")
	ErrValidationExhausted = New("DRAFT_VALIDATION_EXHAUSTED", http.StatusUnprocessableEntity, "draft did not pass validation within the attempt budget")
	ErrGenerationFailed    = New("GENERATION_FAILED", http.StatusBadGateway, "text generation service failed")
	ErrBatchRunning        = New("BATCH_RUNNING", http.StatusConflict, "a draft batch is already running")
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
