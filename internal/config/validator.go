package config

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wesleyorama2/barrage/internal/http"
	"github.com/wesleyorama2/barrage/internal/retry"
)

//go:embed schema.json
var schemaJSON string

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

func invalid(errs *ValidationErrors) error {
	field := "config"
	if len(errs.Errors) > 0 && errs.Errors[0].Field != "" {
		field = errs.Errors[0].Field
	}
	return &retry.ConfigurationError{Field: field, Message: errs.Error(), Err: errs}
}

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error

	validate = validator.New()

	testNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("barrage.json", strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("invalid embedded schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("barrage.json")
	})
	return compiledSchema, schemaErr
}

// validateSchema checks the document shape. Every leaf failure becomes one
// ValidationError keyed by its instance location.
func validateSchema(doc interface{}) *ValidationErrors {
	errs := &ValidationErrors{}

	schema, err := loadSchema()
	if err != nil {
		errs.Add("", err.Error())
		return errs
	}

	err = schema.Validate(doc)
	if err == nil {
		return errs
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		errs.Add("", err.Error())
		return errs
	}
	collectSchemaErrors(verr, errs)
	if !errs.HasErrors() {
		errs.Add("", verr.Error())
	}
	return errs
}

func collectSchemaErrors(err *jsonschema.ValidationError, errs *ValidationErrors) {
	if len(err.Causes) == 0 {
		errs.Add(instancePath(err.InstanceLocation), err.Message)
		return
	}
	for _, cause := range err.Causes {
		collectSchemaErrors(cause, errs)
	}
}

// instancePath turns "/retry/max_attempts" into "retry.max_attempts".
func instancePath(loc string) string {
	return strings.ReplaceAll(strings.TrimPrefix(loc, "/"), "/", ".")
}

// validate applies the struct rules and the checks the schema cannot
// express.
func (c *TestConfig) validate() *ValidationErrors {
	errs := &ValidationErrors{}

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs.Add(fe.Namespace(), fmt.Sprintf("failed %q check (value %v)", fe.ActualTag(), fe.Value()))
			}
		} else {
			errs.Add("", err.Error())
		}
	}

	if c.TestName != "" && !testNamePattern.MatchString(c.TestName) {
		errs.Add("test_name", "must contain only letters, digits, '_' or '-'")
	}
	if c.BaseURL != "" && !strings.HasPrefix(c.BaseURL, "http://") && !strings.HasPrefix(c.BaseURL, "https://") {
		errs.Add("base_url", "must start with http:// or https://")
	}
	if c.Load.Method != "" {
		if _, err := http.ParseMethod(c.Load.Method); err != nil {
			errs.Add("load.method", err.Error())
		}
	}

	return errs
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
