package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeValidationFailed   ErrorCode = "VALIDATION_FAILED"
	ErrCodeUnauthenticated    ErrorCode = "UNAUTHENTICATED"
	ErrCodeUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit          ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"

	// Provisioning step failures. The code tells the caller how far the
	// workflow got before it stopped.
	ErrCodeIdentityCreationFailed   ErrorCode = "IDENTITY_CREATION_FAILED"
	ErrCodeMemberInsertFailed       ErrorCode = "MEMBER_INSERT_FAILED"
	ErrCodePermissionInsertFailed   ErrorCode = "PERMISSION_INSERT_FAILED"
	ErrCodeIdentityDeletionFailed   ErrorCode = "IDENTITY_DELETION_FAILED"
	ErrCodeMemberDeletionFailed     ErrorCode = "MEMBER_DELETION_FAILED"
	ErrCodePermissionDeletionFailed ErrorCode = "PERMISSION_DELETION_FAILED"
	ErrCodeUpdateFailed             ErrorCode = "UPDATE_FAILED"
	ErrCodeListFailed               ErrorCode = "LIST_FAILED"
)

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

func NewValidationError(message string) *AppError {
	return NewAppError(ErrCodeValidationFailed, message, http.StatusBadRequest)
}

func NewUnauthenticatedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthenticated, message, http.StatusUnauthorized)
}

// NewUnauthorizedError is returned when the caller's role does not allow the
// operation. It maps to 403: the caller is known, just not permitted.
func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusForbidden)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewBackendUnavailableError(err error, message string) *AppError {
	return WrapError(err, ErrCodeBackendUnavailable, message, http.StatusServiceUnavailable)
}

// NewStepError reports a backend failure at a named workflow step.
func NewStepError(code ErrorCode, err error, message string) *AppError {
	return WrapError(err, code, message, http.StatusBadGateway)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// CodeOf returns the code of the outermost AppError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	if appErr := GetAppError(err); appErr != nil {
		return appErr.Code
	}
	return ""
}
