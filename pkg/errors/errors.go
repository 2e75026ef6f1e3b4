// Package errors defines the error kinds used across the codemode subsystem.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrAuth is returned when the kernel gateway rejects the provided credentials
	ErrAuth = "auth"

	// ErrUpstream is returned when the kernel gateway or a tool server responds with a non-2xx status
	ErrUpstream = "upstream"

	// ErrProtocol is returned when a malformed protocol frame is encountered
	ErrProtocol = "protocol"

	// ErrQuotaExceeded is returned when a user is already at the running-daemon cap
	ErrQuotaExceeded = "quota_exceeded"

	// ErrNotConnected is returned when an operation is attempted on a tool client that never connected
	ErrNotConnected = "not_connected"

	// ErrTool is returned when a tool server reports a tool execution error
	ErrTool = "tool"

	// ErrTimeout is returned when a deadline is exceeded
	ErrTimeout = "timeout"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewAuthError creates a new auth error
func NewAuthError(message string, cause error) *Error {
	return NewError(ErrAuth, message, cause)
}

// NewUpstreamError creates a new upstream error
func NewUpstreamError(message string, cause error) *Error {
	return NewError(ErrUpstream, message, cause)
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, cause error) *Error {
	return NewError(ErrProtocol, message, cause)
}

// NewQuotaExceededError creates a new quota exceeded error
func NewQuotaExceededError(message string, cause error) *Error {
	return NewError(ErrQuotaExceeded, message, cause)
}

// NewNotConnectedError creates a new not connected error
func NewNotConnectedError(message string, cause error) *Error {
	return NewError(ErrNotConnected, message, cause)
}

// NewToolError creates a new tool error
func NewToolError(message string, cause error) *Error {
	return NewError(ErrTool, message, cause)
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, cause error) *Error {
	return NewError(ErrTimeout, message, cause)
}

// hasType checks whether err or any error it wraps is an *Error of the given type
func hasType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsAuth checks if the error is an auth error
func IsAuth(err error) bool {
	return hasType(err, ErrAuth)
}

// IsUpstream checks if the error is an upstream error
func IsUpstream(err error) bool {
	return hasType(err, ErrUpstream)
}

// IsProtocol checks if the error is a protocol error
func IsProtocol(err error) bool {
	return hasType(err, ErrProtocol)
}

// IsQuotaExceeded checks if the error is a quota exceeded error
func IsQuotaExceeded(err error) bool {
	return hasType(err, ErrQuotaExceeded)
}

// IsNotConnected checks if the error is a not connected error
func IsNotConnected(err error) bool {
	return hasType(err, ErrNotConnected)
}

// IsTool checks if the error is a tool error
func IsTool(err error) bool {
	return hasType(err, ErrTool)
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return hasType(err, ErrTimeout)
}
