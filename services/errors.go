package services

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeAuthentication ErrorType = "authentication_failed"
	ErrorTypeAuthorization  ErrorType = "authorization_denied"
	ErrorTypeValidation     ErrorType = "validation_failed"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeIntegrity      ErrorType = "integrity_mismatch"
	ErrorTypeUpstream       ErrorType = "upstream_unavailable"
	ErrorTypeConflict       ErrorType = "conflict_exists"
	ErrorTypeNotConfigured  ErrorType = "not_configured"
	ErrorTypeInternal       ErrorType = "internal"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
	// Status overrides the default HTTP status for the type when non-zero
	Status int
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithStatus sets an explicit HTTP status for this error
func (e *DomainError) WithStatus(status int) *DomainError {
	e.Status = status
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Sentinels for errors.Is comparisons. Never mutate these; build fresh
// errors with the New* constructors when details are needed.
var (
	ErrAuthenticationFailed = NewDomainError(ErrorTypeAuthentication, "authentication failed", nil)
	ErrAuthorizationDenied  = NewDomainError(ErrorTypeAuthorization, "authorization denied", nil)
	ErrValidationFailed     = NewDomainError(ErrorTypeValidation, "validation failed", nil)
	ErrNotFound             = NewDomainError(ErrorTypeNotFound, "not found", nil)
	ErrIntegrityMismatch    = NewDomainError(ErrorTypeIntegrity, "integrity mismatch", nil)
	ErrUpstreamUnavailable  = NewDomainError(ErrorTypeUpstream, "upstream unavailable", nil)
	ErrConflictExists       = NewDomainError(ErrorTypeConflict, "already exists", nil)
	ErrNotConfigured        = NewDomainError(ErrorTypeNotConfigured, "not configured", nil)
	ErrInternal             = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Constructors

// NewValidationError creates a validation error
func NewValidationError(message string) *DomainError {
	return NewDomainError(ErrorTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(message string) *DomainError {
	return NewDomainError(ErrorTypeNotFound, message, nil)
}

// NewAuthenticationError creates an authentication error
func NewAuthenticationError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeAuthentication, message, err)
}

// NewAuthorizationError creates an authorization error
func NewAuthorizationError(message string) *DomainError {
	return NewDomainError(ErrorTypeAuthorization, message, nil)
}

// NewConflictError creates a conflict error
func NewConflictError(message string, err error) *DomainError {
	return NewDomainError(ErrorTypeConflict, message, err)
}

// NewNotConfiguredError creates a not-configured error
func NewNotConfiguredError(message string) *DomainError {
	return NewDomainError(ErrorTypeNotConfigured, message, nil)
}

// Error type checking helper functions

// IsAuthenticationError checks if an error is an authentication error
func IsAuthenticationError(err error) bool {
	return GetErrorType(err) == ErrorTypeAuthentication
}

// IsAuthorizationError checks if an error is an authorization error
func IsAuthorizationError(err error) bool {
	return GetErrorType(err) == ErrorTypeAuthorization
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return GetErrorType(err) == ErrorTypeValidation
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotFound
}

// IsIntegrityError checks if an error is an integrity mismatch
func IsIntegrityError(err error) bool {
	return GetErrorType(err) == ErrorTypeIntegrity
}

// IsUpstreamError checks if an error is an upstream-unavailable error
func IsUpstreamError(err error) bool {
	return GetErrorType(err) == ErrorTypeUpstream
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return GetErrorType(err) == ErrorTypeConflict
}

// IsNotConfiguredError checks if an error is a not-configured error
func IsNotConfiguredError(err error) bool {
	return GetErrorType(err) == ErrorTypeNotConfigured
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return GetErrorType(err) == ErrorTypeInternal
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// GetErrorStatus returns the explicit HTTP status of a domain error, or 0
func GetErrorStatus(err error) int {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status
	}
	return 0
}

// HTTPStatus maps an error to its response status. An explicit Status on the
// domain error wins; non-domain errors are 500.
func HTTPStatus(err error) int {
	if status := GetErrorStatus(err); status != 0 {
		return status
	}
	switch GetErrorType(err) {
	case ErrorTypeAuthentication:
		return http.StatusUnauthorized
	case ErrorTypeAuthorization:
		return http.StatusForbidden
	case ErrorTypeValidation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeIntegrity:
		return http.StatusUnprocessableEntity
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeUpstream, ErrorTypeNotConfigured:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUpstream wraps an error as a retryable upstream failure
func WrapUpstream(message string, err error) error {
	return NewDomainError(ErrorTypeUpstream, message, err)
}
