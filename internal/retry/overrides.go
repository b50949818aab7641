package retry

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment variables consulted by OverridesFromEnv.
const (
	EnvMaxAttempts  = "HTTP_RETRY_MAX_ATTEMPTS"
	EnvInitialDelay = "HTTP_RETRY_INITIAL_DELAY"
	EnvMaxDelay     = "HTTP_RETRY_MAX_DELAY"
	EnvBackoff      = "HTTP_RETRY_BACKOFF"
)

// Overrides carries optional replacements for Config fields. A nil field
// (or nil slice) leaves the underlying value untouched.
type Overrides struct {
	MaxAttempts          *int
	InitialDelay         *time.Duration
	MaxDelay             *time.Duration
	BackoffMultiplier    *float64
	RetryableStatusCodes []int
}

// IsZero reports whether o overrides nothing.
func (o Overrides) IsZero() bool {
	return o.MaxAttempts == nil && o.InitialDelay == nil && o.MaxDelay == nil &&
		o.BackoffMultiplier == nil && o.RetryableStatusCodes == nil
}

// Merge applies each override to base in order; later overrides win.
func Merge(base Config, overrides ...Overrides) Config {
	out := base
	for _, o := range overrides {
		if o.MaxAttempts != nil {
			out.MaxAttempts = *o.MaxAttempts
		}
		if o.InitialDelay != nil {
			out.InitialDelay = *o.InitialDelay
		}
		if o.MaxDelay != nil {
			out.MaxDelay = *o.MaxDelay
		}
		if o.BackoffMultiplier != nil {
			out.BackoffMultiplier = *o.BackoffMultiplier
		}
		if o.RetryableStatusCodes != nil {
			out.RetryableStatusCodes = NewStatusSet(o.RetryableStatusCodes...)
		}
	}
	return out
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// OverridesFromEnv reads the HTTP_RETRY_* variables through lookup.
//
// Unset, empty, unparsable and zero values are not overrides, so they fall
// back to whatever lies underneath. Negative numbers are passed through and
// rejected later by Resolve.
func OverridesFromEnv(lookup LookupFunc) Overrides {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var o Overrides
	if n, ok := envInt(lookup, EnvMaxAttempts); ok {
		o.MaxAttempts = &n
	}
	if n, ok := envInt(lookup, EnvInitialDelay); ok {
		d := time.Duration(n) * time.Millisecond
		o.InitialDelay = &d
	}
	if n, ok := envInt(lookup, EnvMaxDelay); ok {
		d := time.Duration(n) * time.Millisecond
		o.MaxDelay = &d
	}
	if raw, ok := lookup(EnvBackoff); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil && f != 0 {
			o.BackoffMultiplier = &f
		}
	}
	return o
}

// FromEnv resolves the default policy with environment overrides applied.
func FromEnv(lookup LookupFunc) (Config, error) {
	return Resolve(Merge(DefaultConfig(), OverridesFromEnv(lookup)))
}

func envInt(lookup LookupFunc, key string) (int, bool) {
	raw, ok := lookup(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n == 0 {
		return 0, false
	}
	return n, true
}

// Int returns a pointer to v, for building Overrides literals.
func Int(v int) *int { return &v }

// Duration returns a pointer to v.
func Duration(v time.Duration) *time.Duration { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
