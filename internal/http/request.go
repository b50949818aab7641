package http

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wesleyorama2/barrage/internal/retry"
)

// Method is one of the HTTP methods the executor can send.
type Method int

const (
	MethodGet Method = iota + 1
	MethodPost
	MethodPut
	MethodPatch
	MethodDelete
)

var methodNames = [...]string{
	MethodGet:    http.MethodGet,
	MethodPost:   http.MethodPost,
	MethodPut:    http.MethodPut,
	MethodPatch:  http.MethodPatch,
	MethodDelete: http.MethodDelete,
}

// Methods lists every supported method.
var Methods = []Method{MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete}

// String returns the wire name of the method, e.g. "GET".
func (m Method) String() string {
	if !m.Valid() {
		return fmt.Sprintf("Method(%d)", int(m))
	}
	return methodNames[m]
}

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	return m >= MethodGet && m <= MethodDelete
}

// SendsBody reports whether the public helper for m accepts a payload.
func (m Method) SendsBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	case MethodGet, MethodDelete:
		return false
	}
	return false
}

// ParseMethod maps a case-insensitive method name to a Method. Anything
// else is a *ConfigurationError wrapping retry.ErrUnsupportedMethod.
func ParseMethod(name string) (Method, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for _, m := range Methods {
		if methodNames[m] == upper {
			return m, nil
		}
	}
	return 0, unsupportedMethod(name)
}

func unsupportedMethod(name string) error {
	return &ConfigurationError{
		Field:   "method",
		Message: fmt.Sprintf("unsupported HTTP method: %s", name),
		Err:     retry.ErrUnsupportedMethod,
	}
}

// RequestSpec is one logical request. It is built once per call and shared,
// read-only, by every attempt.
type RequestSpec struct {
	Method  Method
	URL     string
	Body    []byte
	Headers http.Header

	// Name tags the attempts in metrics; defaults to "METHOD endpoint".
	Name string
}

// BuildURL joins a base URL and an endpoint with exactly one slash.
//
// One trailing slash is removed from base and one leading slash from
// endpoint. Nothing else is touched, so query strings and escaping are the
// caller's responsibility.
func BuildURL(base, endpoint string) string {
	base = strings.TrimSuffix(base, "/")
	endpoint = strings.TrimPrefix(endpoint, "/")
	return base + "/" + endpoint
}

// EncodeBody serializes a request payload.
// The body can be:
//   - nil: no body
//   - string or []byte: sent as-is
//   - io.Reader: read fully
//   - any other type: marshaled as JSON
func EncodeBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	case json.RawMessage:
		return b, nil
	case io.Reader:
		data, err := io.ReadAll(b)
		if err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
		return data, nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encoding request body as JSON: %w", err)
		}
		return data, nil
	}
}
