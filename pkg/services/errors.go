package services

import (
	"errors"
	"fmt"
)

// ErrUnsuccessful is returned when the backend answers 200 with
// success=false.
var ErrUnsuccessful = errors.New("services: request unsuccessful")

// APIError is a non-2xx response from the backend.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("services: API error %d: %s", e.StatusCode, e.Message)
}

// IsUnauthorized returns true for HTTP 401 and 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsServerError returns true for HTTP 5xx.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= 500 && e.StatusCode < 600
}
