package commbus

import (
	"fmt"
	"time"
)

// =============================================================================
// ERRORS
// =============================================================================

// NoHandlerError is returned when no handler is registered for a message type.
type NoHandlerError struct {
	MessageType string
}

func (e *NoHandlerError) Error() string {
	return fmt.Sprintf("no handler registered for %s", e.MessageType)
}

// NewNoHandlerError creates a new NoHandlerError.
func NewNoHandlerError(messageType string) *NoHandlerError {
	return &NoHandlerError{MessageType: messageType}
}

// HandlerAlreadyRegisteredError is returned when registering a duplicate handler.
type HandlerAlreadyRegisteredError struct {
	MessageType string
}

func (e *HandlerAlreadyRegisteredError) Error() string {
	return fmt.Sprintf("handler already registered for %s", e.MessageType)
}

// NewHandlerAlreadyRegisteredError creates a new HandlerAlreadyRegisteredError.
func NewHandlerAlreadyRegisteredError(messageType string) *HandlerAlreadyRegisteredError {
	return &HandlerAlreadyRegisteredError{MessageType: messageType}
}

// QueryTimeoutError is returned when a query handler does not answer in time.
type QueryTimeoutError struct {
	MessageType string
	Timeout     time.Duration
}

func (e *QueryTimeoutError) Error() string {
	return fmt.Sprintf("query %s timed out after %s", e.MessageType, e.Timeout)
}

// NewQueryTimeoutError creates a new QueryTimeoutError.
func NewQueryTimeoutError(messageType string, timeout time.Duration) *QueryTimeoutError {
	return &QueryTimeoutError{MessageType: messageType, Timeout: timeout}
}

// OriginRejectedError is returned when an inbound message was posted from an
// origin outside the allow-list.
type OriginRejectedError struct {
	MessageType string
	Origin      string
}

func (e *OriginRejectedError) Error() string {
	return fmt.Sprintf("%s from origin %q rejected", e.MessageType, e.Origin)
}

// ThrottledError is returned when inbound messages exceed the allowed rate.
type ThrottledError struct {
	MessageType string
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("%s throttled", e.MessageType)
}

// DecodeError is returned for malformed or unknown wire messages.
type DecodeError struct {
	Type  string
	Cause error
}

func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("decode bridge message: %v", e.Cause)
	}
	return fmt.Sprintf("decode bridge message %s: %v", e.Type, e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
