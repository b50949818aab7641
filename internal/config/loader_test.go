package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/barrage/internal/auth"
	"github.com/wesleyorama2/barrage/internal/retry"
)

const weatherConfig = `
test_name: weather_api
base_url: https://api.example.com/
headers:
  X-Team: teamA
endpoints:
  health: /v1/health
  forecast: v1/forecast
environments:
  staging:
    test_name: should_be_ignored
    base_url: https://staging.example.com
    retry:
      max_attempts: 2
auth:
  type: jwt
  login_url: https://auth.example.com/login
retry:
  max_attempts: 5
  initial_delay_ms: 50
  max_delay_ms: 2000
  backoff_multiplier: 1.5
  retryable_status_codes: [429, 503]
load:
  vus: 10
  duration: 30s
  endpoint: health
  method: get
`

func envMap(m map[string]string) retry.LookupFunc {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestLoad(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "weather.yaml")
	if err := os.WriteFile(configPath, []byte(weatherConfig), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath, "dev")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.TestName != "weather_api" {
		t.Errorf("TestName = %q, want weather_api", cfg.TestName)
	}
	if cfg.BaseURL != "https://api.example.com/" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Environment != "" {
		t.Errorf("Environment = %q, want empty for an undefined environment", cfg.Environment)
	}
	if cfg.Auth.Type != auth.TypeJWT || cfg.Auth.LoginURL != "https://auth.example.com/login" {
		t.Errorf("Auth = %+v", cfg.Auth)
	}
	if cfg.Load.VUs != 10 || cfg.Load.Duration.Std() != 30*time.Second {
		t.Errorf("Load = %+v", cfg.Load)
	}
	if cfg.Headers["X-Team"] != "teamA" {
		t.Errorf("Headers = %v", cfg.Headers)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), "dev")
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_EnvironmentOverride(t *testing.T) {
	cfg, err := Parse([]byte(weatherConfig), "staging")
	require.NoError(t, err)

	assert.Equal(t, "staging", cfg.Environment)
	assert.Equal(t, "weather_api", cfg.TestName, "test_name is never overridden")
	assert.Equal(t, "https://staging.example.com", cfg.BaseURL)

	// The retry block is replaced wholesale, not merged field by field.
	require.NotNil(t, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, *cfg.Retry.MaxAttempts)
	assert.Nil(t, cfg.Retry.InitialDelayMs)

	// Untouched top-level keys survive.
	assert.Equal(t, "/v1/health", cfg.Endpoints["health"])
}

func TestParse_Warnings(t *testing.T) {
	cfg, err := Parse([]byte(weatherConfig), "prod")
	require.NoError(t, err)

	warnings := cfg.Warnings()
	require.Len(t, warnings, 2)
	assert.Contains(t, warnings[0], `endpoint "forecast" should start with '/'`)
	assert.Contains(t, warnings[1], `environment "prod" is not defined`)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "missing test_name",
			yaml:  "base_url: https://x.example.com\n",
			field: "",
		},
		{
			name:  "bad test_name",
			yaml:  "test_name: weather api\nbase_url: https://x.example.com\n",
			field: "test_name",
		},
		{
			name:  "bad base_url",
			yaml:  "test_name: t\nbase_url: ftp://x.example.com\n",
			field: "base_url",
		},
		{
			name:  "endpoint not a string",
			yaml:  "test_name: t\nbase_url: https://x\nendpoints:\n  a: {path: /x}\n",
			field: "endpoints.a",
		},
		{
			name:  "unknown auth type",
			yaml:  "test_name: t\nbase_url: https://x\nauth:\n  type: basic\n",
			field: "auth.type",
		},
		{
			name:  "retry attempts below one",
			yaml:  "test_name: t\nbase_url: https://x\nretry:\n  max_attempts: 0\n",
			field: "TestConfig.Retry.MaxAttempts",
		},
		{
			name:  "status code out of range",
			yaml:  "test_name: t\nbase_url: https://x\nretry:\n  retryable_status_codes: [700]\n",
			field: "retry.retryable_status_codes.0",
		},
		{
			name:  "jwt without login_url",
			yaml:  "test_name: t\nbase_url: https://x\nauth:\n  type: jwt\n",
			field: "TestConfig.Auth.LoginURL",
		},
		{
			name:  "unsupported load method",
			yaml:  "test_name: t\nbase_url: https://x\nload:\n  method: HEAD\n",
			field: "load.method",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), "dev")
			require.Error(t, err)

			var cfgErr *retry.ConfigurationError
			require.True(t, errors.As(err, &cfgErr), "want *retry.ConfigurationError, got %T", err)

			var verrs *ValidationErrors
			require.True(t, errors.As(err, &verrs))
			if tt.field == "" {
				return
			}
			var fields []string
			for _, e := range verrs.Errors {
				fields = append(fields, e.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	_, err := Parse([]byte("test_name: [unterminated"), "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML config")

	_, err = Parse([]byte(""), "dev")
	require.Error(t, err)
}

func TestTestConfig_EndpointURL(t *testing.T) {
	cfg, err := Parse([]byte(weatherConfig), "dev")
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com/v1/health", cfg.EndpointURL("health"))
	assert.Equal(t, "https://api.example.com/v1/forecast", cfg.EndpointURL("forecast"))
	assert.Equal(t, "https://api.example.com/raw/path", cfg.EndpointURL("/raw/path"))
}

func TestTestConfig_RetryConfig(t *testing.T) {
	cfg, err := Parse([]byte(weatherConfig), "dev")
	require.NoError(t, err)

	rc, err := cfg.RetryConfig(envMap(nil))
	require.NoError(t, err)
	assert.Equal(t, 5, rc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, rc.InitialDelay)
	assert.Equal(t, 2*time.Second, rc.MaxDelay)
	assert.Equal(t, 1.5, rc.BackoffMultiplier)
	assert.Equal(t, []int{429, 503}, rc.RetryableStatusCodes.Codes())

	// The environment beats the file.
	rc, err = cfg.RetryConfig(envMap(map[string]string{retry.EnvMaxAttempts: "7"}))
	require.NoError(t, err)
	assert.Equal(t, 7, rc.MaxAttempts)

	// Explicit overrides beat both.
	rc, err = cfg.RetryConfig(envMap(map[string]string{retry.EnvMaxAttempts: "7"}), retry.Overrides{MaxAttempts: retry.Int(2)})
	require.NoError(t, err)
	assert.Equal(t, 2, rc.MaxAttempts)
	assert.Equal(t, 50*time.Millisecond, rc.InitialDelay)
}

func TestCurrentEnvironment(t *testing.T) {
	assert.Equal(t, DefaultEnvironment, CurrentEnvironment(envMap(nil)))
	assert.Equal(t, DefaultEnvironment, CurrentEnvironment(envMap(map[string]string{EnvSelector: "  "})))
	assert.Equal(t, "staging", CurrentEnvironment(envMap(map[string]string{EnvSelector: "staging"})))
}

func TestParseDurationString(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"", 0, false},
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"45", 45 * time.Second, false},
		{"soon", 0, true},
		{"10x", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDurationString(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDurationString(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseDurationString(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadSettings_IntegerDuration(t *testing.T) {
	cfg, err := Parse([]byte("test_name: t\nbase_url: https://x\nload:\n  duration: 15\n"), "dev")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Load.Duration.Std())
}
