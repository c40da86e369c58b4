package integration

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the runner rejects the bearer token.
var ErrUnauthorized = errors.New("integration: unauthorized")

// RequestError is a non-auth rejection reported by the runner.
type RequestError struct {
	StatusCode int
	Message    string
}

func (e *RequestError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}
