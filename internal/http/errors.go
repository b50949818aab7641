package http

import (
	"fmt"

	"github.com/wesleyorama2/barrage/internal/retry"
)

// ConfigurationError reports an invalid retry configuration or an
// unsupported method. It is raised before any network activity.
type ConfigurationError = retry.ConfigurationError

// RetryExhaustedError is returned when every attempt of a call failed
// without a response. Err is the last transport error.
type RetryExhaustedError struct {
	Method   string
	URL      string
	Attempts int
	Err      error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("HTTP %s %s failed after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// ParseError is returned when a response body is not the JSON the caller
// asked for.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse JSON response: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
