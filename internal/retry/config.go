// Package retry holds the retry policy used by the request executor: the
// resolved configuration, how it is assembled from defaults and overrides,
// the status classifier and the jittered backoff calculator.
package retry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxAttempts is the number of physical attempts per logical request.
	DefaultMaxAttempts = 3

	// DefaultInitialDelay is the base delay before the first retry.
	DefaultInitialDelay = 100 * time.Millisecond

	// DefaultMaxDelay caps any single backoff delay.
	DefaultMaxDelay = 5000 * time.Millisecond

	// DefaultBackoffMultiplier is the exponential growth factor between retries.
	DefaultBackoffMultiplier = 2.0
)

// DefaultRetryableStatusCodes are the statuses treated as transient.
var DefaultRetryableStatusCodes = []int{408, 429, 500, 502, 503, 504}

// StatusSet is a set of HTTP status codes.
type StatusSet map[int]struct{}

// NewStatusSet creates a set holding the given codes.
func NewStatusSet(codes ...int) StatusSet {
	s := make(StatusSet, len(codes))
	for _, c := range codes {
		s[c] = struct{}{}
	}
	return s
}

// Contains reports whether code is in the set.
func (s StatusSet) Contains(code int) bool {
	_, ok := s[code]
	return ok
}

// Codes returns the members in ascending order.
func (s StatusSet) Codes() []int {
	codes := make([]int, 0, len(s))
	for c := range s {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	return codes
}

func (s StatusSet) clone() StatusSet {
	out := make(StatusSet, len(s))
	for c := range s {
		out[c] = struct{}{}
	}
	return out
}

// Config is the retry policy for one execution.
//
// A Config returned by Resolve is never mutated afterwards; Resolve hands
// out its own copy of the status set so callers cannot alias it.
type Config struct {
	// MaxAttempts is the total number of physical attempts, including the first.
	MaxAttempts int `validate:"min=1"`

	// InitialDelay is the unjittered delay after the first failed attempt.
	InitialDelay time.Duration `validate:"gte=0s"`

	// MaxDelay caps every computed delay.
	MaxDelay time.Duration `validate:"gtefield=InitialDelay"`

	// BackoffMultiplier is applied once per additional attempt.
	BackoffMultiplier float64 `validate:"gte=1"`

	// RetryableStatusCodes are the statuses that trigger another attempt.
	RetryableStatusCodes StatusSet
}

// DefaultConfig returns the hard-coded fallback policy.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:          DefaultMaxAttempts,
		InitialDelay:         DefaultInitialDelay,
		MaxDelay:             DefaultMaxDelay,
		BackoffMultiplier:    DefaultBackoffMultiplier,
		RetryableStatusCodes: NewStatusSet(DefaultRetryableStatusCodes...),
	}
}

// IsRetryable reports whether a response with the given status should be
// attempted again. Success statuses are decided by the executor before this
// is consulted.
func (c Config) IsRetryable(status int) bool {
	return c.RetryableStatusCodes.Contains(status)
}

// String renders the policy for log lines.
func (c Config) String() string {
	codes := c.RetryableStatusCodes.Codes()
	parts := make([]string, len(codes))
	for i, code := range codes {
		parts[i] = fmt.Sprintf("%d", code)
	}
	return fmt.Sprintf("attempts=%d initial=%s max=%s multiplier=%g statuses=[%s]",
		c.MaxAttempts, c.InitialDelay, c.MaxDelay, c.BackoffMultiplier, strings.Join(parts, ","))
}

var validate = validator.New()

// Resolve clamps and validates cfg, returning an immutable copy.
//
// A MaxDelay below InitialDelay is raised to InitialDelay instead of being
// rejected. Any other invalid field yields a *ConfigurationError.
func Resolve(cfg Config) (Config, error) {
	out := cfg
	if out.RetryableStatusCodes == nil {
		out.RetryableStatusCodes = NewStatusSet(DefaultRetryableStatusCodes...)
	} else {
		out.RetryableStatusCodes = cfg.RetryableStatusCodes.clone()
	}

	if out.MaxDelay < out.InitialDelay {
		out.MaxDelay = out.InitialDelay
	}

	if err := validate.Struct(out); err != nil {
		return Config{}, configErrorFrom(err)
	}

	for code := range out.RetryableStatusCodes {
		if code < 100 || code > 599 {
			return Config{}, &ConfigurationError{
				Field:   "RetryableStatusCodes",
				Message: fmt.Sprintf("status code %d is outside 100-599", code),
			}
		}
	}

	return out, nil
}

// MustResolve is Resolve for package-level defaults; it panics on error.
func MustResolve(cfg Config) Config {
	out, err := Resolve(cfg)
	if err != nil {
		panic(err)
	}
	return out
}

func configErrorFrom(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Field: "retry", Message: err.Error()}
	}

	fe := verrs[0]
	var msg string
	switch fe.Tag() {
	case "min", "gte":
		msg = fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	case "gtefield":
		msg = fmt.Sprintf("must be >= %s, got %v", fe.Param(), fe.Value())
	default:
		msg = fmt.Sprintf("failed %q check, got %v", fe.Tag(), fe.Value())
	}
	return &ConfigurationError{Field: fe.Field(), Message: msg}
}
