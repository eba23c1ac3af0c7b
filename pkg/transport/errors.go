package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	// ErrMissingURL indicates the voice endpoint was not configured.
	ErrMissingURL = errors.New("transport: URL is required")

	// ErrNotConnected indicates a send while the channel is not open.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAlreadyConnected indicates Connect on an open channel.
	ErrAlreadyConnected = errors.New("transport: already connected")

	// ErrClosed indicates use of a channel after Close.
	ErrClosed = errors.New("transport: channel closed")

	// ErrReconnectExhausted indicates the reconnection cap was reached.
	ErrReconnectExhausted = errors.New("transport: reconnection attempts exhausted")
)

// ConnectionError represents a websocket connection failure.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if reconnection should be attempted.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transport: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("transport: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection should be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// IsNotConnected returns true if the error indicates no open connection.
func IsNotConnected(err error) bool {
	return errors.Is(err, ErrNotConnected) || errors.Is(err, ErrClosed)
}
