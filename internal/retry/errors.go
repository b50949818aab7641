package retry

import (
	"errors"
	"fmt"
)

// ErrUnsupportedMethod is wrapped by the ConfigurationError returned for an
// HTTP method the executor does not know how to send.
var ErrUnsupportedMethod = errors.New("unsupported HTTP method")

// ConfigurationError reports a fatal setup problem: an unsupported method or
// an invalid retry or test configuration. It is raised before any attempt is
// made and is never retried.
type ConfigurationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigurationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("configuration error: %s", e.Message)
	}
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Message)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
