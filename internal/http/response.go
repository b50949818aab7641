package http

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// Response is the final HTTP response of a logical request. The body has
// already been read; Attempts and Outcome describe how the executor got here.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte

	// Duration covers the final attempt only.
	Duration time.Duration
	Timing   TimingInfo

	// Attempts is the number of physical sends made for this call.
	Attempts int
	Outcome  OutcomeKind
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsRedirect returns true if the response status code is in the 3xx range
func (r *Response) IsRedirect() bool {
	return r.StatusCode >= 300 && r.StatusCode < 400
}

// IsClientError returns true if the response status code is in the 4xx range
func (r *Response) IsClientError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 500
}

// IsServerError returns true if the response status code is in the 5xx range
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500 && r.StatusCode < 600
}

// IsError reports a status of 400 or above.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// HasStatus reports whether the status code equals any of codes.
func (r *Response) HasStatus(codes ...int) bool {
	for _, c := range codes {
		if r.StatusCode == c {
			return true
		}
	}
	return false
}

// BodyString returns the body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// BodyContains reports whether the body contains substr.
func (r *Response) BodyContains(substr string) bool {
	return bytes.Contains(r.Body, []byte(substr))
}

// JSON unmarshals the body into v. Decode failures are *ParseError.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &ParseError{Err: err}
	}
	return nil
}

// DurationMillis returns the final attempt's duration in milliseconds.
func (r *Response) DurationMillis() int64 {
	return r.Duration.Milliseconds()
}

// Extract reads a value from the JSON body with a JSONPath-style
// expression such as "$.users[0].name". Null values come back as "null".
func (r *Response) Extract(path string) (string, error) {
	if len(r.Body) == 0 {
		return "", fmt.Errorf("extract %q: empty body", path)
	}
	if path == "" {
		return "", fmt.Errorf("extract: empty path")
	}
	if !gjson.ValidBytes(r.Body) {
		return "", &ParseError{Err: fmt.Errorf("body is not valid JSON")}
	}

	result := gjson.GetBytes(r.Body, gjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// gjsonPath rewrites $.a[0]['b'] into gjson's a.0.b form. Filters and
// recursive descent are not supported.
func gjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	r := strings.NewReplacer(`['`, ".", `']`, "", `["`, ".", `"]`, "", "[", ".", "]", "")
	return strings.TrimPrefix(r.Replace(path), ".")
}

// MatchesSchema validates the JSON body against a JSON Schema document.
// A nil error means the body conforms. Schema compile failures and body
// parse failures are reported as errors too; use errors.As with
// *jsonschema.ValidationError to tell a mismatch apart.
func (r *Response) MatchesSchema(schema string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", strings.NewReader(schema)); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("response.json")
	if err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(r.Body, &doc); err != nil {
		return &ParseError{Err: err}
	}
	return compiled.Validate(doc)
}
