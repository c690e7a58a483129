package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(message)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewCacheError creates a local cache error with operation context
func NewCacheError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeCacheQuery, fmt.Sprintf("cache %s failed", operation)).
		WithContext("operation", operation)
}

// NewAPIError creates an error for a failed message service call. Transport
// failures and 5xx/429/408 responses are retryable.
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	retryable := statusCode == 0 || statusCode >= 500 || statusCode == 429 || statusCode == 408

	appErr := Wrap(err, ErrCodeFeedAPI, "message service call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode).
		WithUserMessage("Could not reach the server, please try again")

	appErr.Retryable = retryable
	return appErr
}

// NewServerRejection creates an error for a success:false envelope. The
// server-provided message is surfaced verbatim to the user.
func NewServerRejection(endpoint, serverMessage string) *AppError {
	appErr := Wrap(fmt.Errorf("%s", serverMessage), ErrCodeServerRejected, "message service rejected request").
		WithContext("endpoint", endpoint).
		WithUserMessage(serverMessage)
	appErr.Retryable = true
	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}
