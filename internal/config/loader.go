package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wesleyorama2/barrage/internal/retry"
)

// EnvSelector names the environment variable that selects the
// environments.<name> block.
const EnvSelector = "BARRAGE_ENV"

// DefaultEnvironment is used when BARRAGE_ENV is unset.
const DefaultEnvironment = "dev"

// CurrentEnvironment returns BARRAGE_ENV, or DefaultEnvironment.
func CurrentEnvironment(lookup retry.LookupFunc) string {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvSelector); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return DefaultEnvironment
}

// Load reads the YAML file at path and resolves it for env (see Parse).
func Load(path, env string) (*TestConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data, env)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML test configuration, applies environments.<env> over
// the top level, validates the result against the document schema and the
// struct rules, and returns it. Invalid documents produce a
// *retry.ConfigurationError wrapping ValidationErrors.
func Parse(data []byte, env string) (*TestConfig, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if raw == nil {
		return nil, invalid(&ValidationErrors{Errors: []*ValidationError{{Message: "config is empty"}}})
	}

	merged, applied := applyEnvironment(raw, env)

	doc, err := toJSONDocument(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if errs := validateSchema(doc); errs.HasErrors() {
		return nil, invalid(errs)
	}

	// Re-decode the merged document so typed fields see the overrides.
	out, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("re-encoding config: %w", err)
	}
	cfg := &TestConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(out))
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	if applied {
		cfg.Environment = env
	}

	if errs := cfg.validate(); errs.HasErrors() {
		return nil, invalid(errs)
	}

	cfg.warnings = cfg.collectWarnings(raw, env, applied)
	return cfg, nil
}

// applyEnvironment overlays environments[env] onto the top-level keys.
// The overlay is shallow: a key present in the environment block replaces
// the base value wholesale. test_name always comes from the base document
// and the environments key is dropped from the result.
func applyEnvironment(raw map[string]interface{}, env string) (map[string]interface{}, bool) {
	merged := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		if k == "environments" {
			continue
		}
		merged[k] = v
	}

	envs, _ := raw["environments"].(map[string]interface{})
	block, ok := envs[env].(map[string]interface{})
	if !ok {
		return merged, false
	}

	for k, v := range block {
		if k == "test_name" || k == "environments" {
			continue
		}
		merged[k] = v
	}
	return merged, true
}

// toJSONDocument turns a yaml.v3 decoded value into the plain JSON value
// tree the schema validator expects.
func toJSONDocument(v interface{}) (interface{}, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (c *TestConfig) collectWarnings(raw map[string]interface{}, env string, applied bool) []string {
	var warnings []string

	for _, name := range sortedKeys(c.Endpoints) {
		if !strings.HasPrefix(c.Endpoints[name], "/") {
			warnings = append(warnings, fmt.Sprintf("endpoint %q should start with '/': %s", name, c.Endpoints[name]))
		}
	}

	if envs, ok := raw["environments"].(map[string]interface{}); ok && len(envs) > 0 && !applied {
		warnings = append(warnings, fmt.Sprintf("environment %q is not defined; using base configuration", env))
	}

	if c.Load.Endpoint != "" {
		if _, ok := c.Endpoints[c.Load.Endpoint]; !ok && !strings.HasPrefix(c.Load.Endpoint, "/") {
			warnings = append(warnings, fmt.Sprintf("load endpoint %q is not a named endpoint; using it as a path", c.Load.Endpoint))
		}
	}

	return warnings
}
