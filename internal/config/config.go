// Package config loads barrage test configurations.
//
// A test configuration is a YAML document naming the target service, its
// logical endpoints, optional per-environment overrides, the auth scheme,
// the retry policy and the load profile:
//
//	test_name: weather_api
//	base_url: https://api.example.com
//	endpoints:
//	  health: /v1/health
//	environments:
//	  staging:
//	    base_url: https://staging.example.com
//	auth:
//	  type: jwt
//	  login_url: https://auth.example.com/login
//	retry:
//	  max_attempts: 5
//	  initial_delay_ms: 50
//	load:
//	  vus: 10
//	  duration: 30s
//	  endpoint: health
package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/barrage/internal/auth"
	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/retry"
)

// TestConfig is a loaded, environment-resolved test configuration.
type TestConfig struct {
	TestName  string            `yaml:"test_name" validate:"required"`
	BaseURL   string            `yaml:"base_url" validate:"required"`
	Headers   map[string]string `yaml:"headers,omitempty"`
	Endpoints map[string]string `yaml:"endpoints,omitempty"`

	Auth  auth.Settings `yaml:"auth,omitempty"`
	Retry RetrySettings `yaml:"retry,omitempty"`
	Load  LoadSettings  `yaml:"load,omitempty"`

	// Environment is the environment block that was applied, or "" if the
	// file defines none for the selected name.
	Environment string `yaml:"-"`

	warnings []string
}

// RetrySettings is the retry block. Unset fields fall through to the
// environment and the defaults.
type RetrySettings struct {
	MaxAttempts          *int     `yaml:"max_attempts,omitempty" validate:"omitempty,min=1"`
	InitialDelayMs       *int     `yaml:"initial_delay_ms,omitempty" validate:"omitempty,min=0"`
	MaxDelayMs           *int     `yaml:"max_delay_ms,omitempty" validate:"omitempty,min=0"`
	BackoffMultiplier    *float64 `yaml:"backoff_multiplier,omitempty" validate:"omitempty,gte=1"`
	RetryableStatusCodes []int    `yaml:"retryable_status_codes,omitempty" validate:"omitempty,dive,min=100,max=599"`
}

// Overrides converts the block into retry overrides.
func (r RetrySettings) Overrides() retry.Overrides {
	o := retry.Overrides{
		MaxAttempts:          r.MaxAttempts,
		BackoffMultiplier:    r.BackoffMultiplier,
		RetryableStatusCodes: r.RetryableStatusCodes,
	}
	if r.InitialDelayMs != nil {
		o.InitialDelay = retry.Duration(time.Duration(*r.InitialDelayMs) * time.Millisecond)
	}
	if r.MaxDelayMs != nil {
		o.MaxDelay = retry.Duration(time.Duration(*r.MaxDelayMs) * time.Millisecond)
	}
	return o
}

// LoadSettings is the load block driving `barrage run`.
type LoadSettings struct {
	VUs      int               `yaml:"vus,omitempty" validate:"gte=0"`
	Duration Duration          `yaml:"duration,omitempty" validate:"gte=0"`
	Rate     float64           `yaml:"rate,omitempty" validate:"gte=0"`
	Endpoint string            `yaml:"endpoint,omitempty"`
	Method   string            `yaml:"method,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Body     interface{}       `yaml:"body,omitempty"`
}

// Warnings returns the non-fatal issues found while loading.
func (c *TestConfig) Warnings() []string {
	return append([]string(nil), c.warnings...)
}

// EndpointPath resolves a logical endpoint name to its path. A name that
// is not defined is treated as a literal path.
func (c *TestConfig) EndpointPath(name string) string {
	if p, ok := c.Endpoints[name]; ok {
		return p
	}
	return name
}

// EndpointURL resolves a logical endpoint name to an absolute URL.
func (c *TestConfig) EndpointURL(name string) string {
	return http.BuildURL(c.BaseURL, c.EndpointPath(name))
}

// RetryConfig merges the retry block, then env, then extra over the
// defaults.
func (c *TestConfig) RetryConfig(lookup retry.LookupFunc, extra ...retry.Overrides) (retry.Config, error) {
	layers := append([]retry.Overrides{c.Retry.Overrides(), retry.OverridesFromEnv(lookup)}, extra...)
	return retry.Resolve(retry.Merge(retry.DefaultConfig(), layers...))
}

// Duration is a time.Duration that unmarshals from "30s"-style strings or
// from a bare integer number of seconds.
type Duration time.Duration

// ParseDurationString parses a duration string with support for common formats.
//
// Supported formats:
//   - Standard Go duration: "30s", "2m", "1h30m", "500ms"
//   - Seconds as integer: "30" (treated as 30 seconds)
func ParseDurationString(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	d, err := time.ParseDuration(s)
	if err == nil {
		return d, nil
	}

	var seconds int
	if _, err := fmt.Sscanf(s, "%d", &seconds); err == nil && fmt.Sprint(seconds) == s {
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("invalid duration format: %s", s)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}
