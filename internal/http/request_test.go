package http

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/barrage/internal/retry"
)

func TestBuildURL(t *testing.T) {
	tests := []struct {
		base, endpoint, want string
	}{
		{"https://api.example.com", "/v1/health", "https://api.example.com/v1/health"},
		{"https://api.example.com/", "/v1/health", "https://api.example.com/v1/health"},
		{"https://api.example.com", "v1/health", "https://api.example.com/v1/health"},
		{"https://api.example.com/", "v1/health", "https://api.example.com/v1/health"},
		{"https://api.example.com//", "//x", "https://api.example.com///x"},
		{"https://api.example.com/api", "/users?id=1", "https://api.example.com/api/users?id=1"},
		{"https://api.example.com", "", "https://api.example.com/"},
	}

	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.endpoint, func(t *testing.T) {
			if got := BuildURL(tt.base, tt.endpoint); got != tt.want {
				t.Errorf("BuildURL(%q, %q) = %q, want %q", tt.base, tt.endpoint, got, tt.want)
			}
		})
	}
}

func TestParseMethod(t *testing.T) {
	tests := []struct {
		in   string
		want Method
	}{
		{"GET", MethodGet},
		{"post", MethodPost},
		{" Put ", MethodPut},
		{"PATCH", MethodPatch},
		{"delete", MethodDelete},
	}
	for _, tt := range tests {
		got, err := ParseMethod(tt.in)
		if err != nil {
			t.Errorf("ParseMethod(%q) error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMethod(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseMethod_Unsupported(t *testing.T) {
	for _, name := range []string{"HEAD", "OPTIONS", "", "TRACE"} {
		_, err := ParseMethod(name)
		require.Error(t, err, name)

		var cfgErr *ConfigurationError
		require.True(t, errors.As(err, &cfgErr), "want *ConfigurationError for %q", name)
		assert.Equal(t, "method", cfgErr.Field)
		assert.True(t, errors.Is(err, retry.ErrUnsupportedMethod))
		assert.Contains(t, err.Error(), "unsupported HTTP method")
	}
}

func TestMethod_String(t *testing.T) {
	assert.Equal(t, "PATCH", MethodPatch.String())
	assert.Equal(t, "Method(42)", Method(42).String())
	assert.False(t, Method(0).Valid())
	assert.True(t, MethodPost.SendsBody())
	assert.False(t, MethodDelete.SendsBody())
}

func TestEncodeBody(t *testing.T) {
	tests := []struct {
		name string
		body interface{}
		want string
	}{
		{"nil", nil, ""},
		{"string", `{"raw":true}`, `{"raw":true}`},
		{"bytes", []byte("abc"), "abc"},
		{"raw message", json.RawMessage(`[1,2]`), "[1,2]"},
		{"reader", strings.NewReader("streamed"), "streamed"},
		{"map", map[string]int{"a": 1}, `{"a":1}`},
		{"struct", struct {
			Name string `json:"name"`
		}{"x"}, `{"name":"x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeBody(tt.body)
			if err != nil {
				t.Fatalf("EncodeBody() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("EncodeBody() = %q, want %q", got, tt.want)
			}
		})
	}

	if got, _ := EncodeBody(nil); got != nil {
		t.Errorf("EncodeBody(nil) = %v, want nil slice", got)
	}
	if _, err := EncodeBody(make(chan int)); err == nil {
		t.Error("EncodeBody(chan) expected error")
	}
}

func TestHeaderBuilder_Defaults(t *testing.T) {
	h := HeaderBuilder{}.Build(context.Background(), nil)

	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, DefaultUserAgent, h.Get("User-Agent"))
	assert.Empty(t, h.Get("Authorization"))
}

func TestHeaderBuilder_CustomWins(t *testing.T) {
	b := HeaderBuilder{UserAgent: "ci-smoke", Tokens: TokenFunc(func(context.Context) (string, error) {
		return "ambient", nil
	})}

	h := b.Build(context.Background(), map[string]string{
		"content-type": "text/plain",
		"X-Trace":      "abc",
	})

	assert.Equal(t, "text/plain", h.Get("Content-Type"))
	assert.Equal(t, "ci-smoke", h.Get("User-Agent"))
	assert.Equal(t, "abc", h.Get("X-Trace"))
	assert.Equal(t, "Bearer ambient", h.Get("Authorization"))
}

func TestHeaderBuilder_PreservesAuthorization(t *testing.T) {
	calls := 0
	b := HeaderBuilder{Tokens: TokenFunc(func(context.Context) (string, error) {
		calls++
		return "ambient", nil
	})}

	h := b.Build(context.Background(), map[string]string{"authorization": "Basic dXNlcjpwYXNz"})

	assert.Equal(t, "Basic dXNlcjpwYXNz", h.Get("Authorization"))
	assert.Len(t, h.Values("Authorization"), 1)
	assert.Zero(t, calls, "token source should not be consulted when Authorization is set")
}

func TestHeaderBuilder_TokenFailures(t *testing.T) {
	tests := []struct {
		name  string
		token string
		err   error
	}{
		{"empty token", "", nil},
		{"token error", "", errors.New("login failed")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := HeaderBuilder{Tokens: TokenFunc(func(context.Context) (string, error) {
				return tt.token, tt.err
			})}
			h := b.Build(context.Background(), nil)
			if _, ok := h["Authorization"]; ok {
				t.Errorf("Authorization = %q, want absent", h.Get("Authorization"))
			}
		})
	}
}
