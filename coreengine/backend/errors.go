package backend

import (
	"fmt"
)

// StatusError is returned when the backend answers with a non-2xx status.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
}

// TransportError is returned when the request never produced a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NetworkFailure marks the error as a connectivity failure for classification.
func (e *TransportError) NetworkFailure() bool {
	return true
}
