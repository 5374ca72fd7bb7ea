package errors

import (
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation       ErrorType = "validation"
	ErrorTypeAuthentication   ErrorType = "authentication"
	ErrorTypeAuthorization    ErrorType = "authorization"
	ErrorTypeNotFound         ErrorType = "not_found"
	ErrorTypeRateLimitTimeout ErrorType = "rate_limit_timeout"
	ErrorTypeCircuitOpen      ErrorType = "circuit_open"
	ErrorTypeUpstream         ErrorType = "upstream"
	ErrorTypeParse            ErrorType = "parse"
	ErrorTypeTimeout          ErrorType = "timeout"
	ErrorTypeInternal         ErrorType = "internal"
)

// AppError represents an application error with context
type AppError struct {
	Type          ErrorType         `json:"type"`
	Code          string            `json:"code"`
	Message       string            `json:"message"`
	Details       map[string]string `json:"details,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Cause         error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithCorrelationID adds a correlation ID to the error
func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTH_ERROR", message)
}

func NewPermissionError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "PERMISSION_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", fmt.Sprintf("%s not found", resource))
}

func NewRateLimitTimeoutError(endpoint string) *AppError {
	return NewAppError(ErrorTypeRateLimitTimeout, "RATE_LIMIT_TIMEOUT",
		fmt.Sprintf("timed out waiting for a rate limit token for %s", endpoint)).
		WithDetail("endpoint", endpoint)
}

func NewCircuitOpenError(endpoint string) *AppError {
	return NewAppError(ErrorTypeCircuitOpen, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit breaker for %s is open", endpoint)).
		WithDetail("endpoint", endpoint)
}

func NewUpstreamError(service, message string) *AppError {
	return NewAppError(ErrorTypeUpstream, "UPSTREAM_SERVICE_ERROR", message).
		WithDetail("service", service)
}

func NewParseError(message string) *AppError {
	return NewAppError(ErrorTypeParse, "PARSE_ERROR", message)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewAgentError(agentName, message string) *AppError {
	return NewAppError(ErrorTypeInternal, "AGENT_ERROR", message).
		WithDetail("agent", agentName)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type == errorType
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsRetryable reports whether the caller should attempt the operation again.
// Only upstream service failures and transport timeouts are retryable; everything
// else either already consumed its chance (circuit open, rate limit timeout) or
// will fail the same way every time (validation, auth, parse).
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrorTypeUpstream, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// CountsTowardBreaker reports whether a failure should increment the circuit
// breaker's consecutive failure counter. The breaker only reacts to confirmed
// transport failures, never to short-circuited or locally rejected calls.
func CountsTowardBreaker(err error) bool {
	switch GetType(err) {
	case ErrorTypeUpstream, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}
