package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorType represents different categories of errors
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeUnauthorized      ErrorType = "unauthorized"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeSourceUnavailable ErrorType = "source_unavailable"
	ErrorTypeDecodeFailure     ErrorType = "decode_failure"
	ErrorTypeRenderCancelled   ErrorType = "render_cancelled"
	ErrorTypePersistence       ErrorType = "persistence_failure"
	ErrorTypeFontSubstitution  ErrorType = "font_substitution_failure"
	ErrorTypeExport            ErrorType = "export_failure"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	Retryable  bool      `json:"retryable,omitempty"`
	StatusCode int       `json:"-"`
	Cause      error     `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Type, e.Message, e.Details)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a new validation error
func NewValidationError(message string, details ...string) *AppError {
	detail := ""
	if len(details) > 0 {
		detail = details[0]
	}
	return &AppError{
		Type:       ErrorTypeValidation,
		Message:    message,
		Details:    detail,
		StatusCode: http.StatusBadRequest,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Message:    message,
		StatusCode: http.StatusNotFound,
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
		Cause:      cause,
	}
}

// NewInternalError creates a new internal server error
func NewInternalError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
		Cause:      cause,
	}
}

// NewSourceUnavailableError is fatal for the viewer that requested the bytes.
func NewSourceUnavailableError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeSourceUnavailable,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewDecodeFailureError marks a malformed document. The client may retry.
func NewDecodeFailureError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeDecodeFailure,
		Message:    message,
		Retryable:  true,
		StatusCode: http.StatusUnprocessableEntity,
		Cause:      cause,
	}
}

// NewRenderCancelledError is an expected outcome of scrolling and is never surfaced.
func NewRenderCancelledError(page int) *AppError {
	return &AppError{
		Type:       ErrorTypeRenderCancelled,
		Message:    fmt.Sprintf("render of page %d superseded", page),
		StatusCode: http.StatusConflict,
	}
}

// NewPersistenceError wraps a failed annotation save or delete.
func NewPersistenceError(message string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypePersistence,
		Message:    message,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// NewFontSubstitutionError wraps a failed font fetch.
func NewFontSubstitutionError(family string, cause error) *AppError {
	return &AppError{
		Type:       ErrorTypeFontSubstitution,
		Message:    "no substitute for font family",
		Details:    family,
		StatusCode: http.StatusNotFound,
		Cause:      cause,
	}
}

// NewExportError carries the transport message of a failed export.
func NewExportError(message string, cause error) *AppError {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return &AppError{
		Type:       ErrorTypeExport,
		Message:    message,
		Details:    details,
		StatusCode: http.StatusBadGateway,
		Cause:      cause,
	}
}

// IsType checks if the error chain contains an AppError of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// GetStatusCode returns the HTTP status code for an error
func GetStatusCode(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// As returns the first AppError in the chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
