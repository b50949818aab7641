package http

import (
	"context"
	"log/slog"
	"net/http"
)

// DefaultUserAgent identifies load-test traffic to the target service.
const DefaultUserAgent = "barrage-performance-test"

// TokenSource supplies the bearer token for outgoing requests. An empty
// token means "unauthenticated" and is not an error.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func(ctx context.Context) (string, error)

// Token implements TokenSource.
func (f TokenFunc) Token(ctx context.Context) (string, error) { return f(ctx) }

// HeaderBuilder assembles the headers of a logical request.
type HeaderBuilder struct {
	// UserAgent defaults to DefaultUserAgent.
	UserAgent string

	// Tokens is the ambient credential source; nil disables injection.
	Tokens TokenSource

	// Log receives token lookup failures; defaults to slog.Default().
	Log *slog.Logger
}

// Build returns the default headers overlaid with custom, plus an
// Authorization bearer header when the caller did not supply one and a
// token is available. Caller values win on any key collision.
func (b HeaderBuilder) Build(ctx context.Context, custom map[string]string) http.Header {
	ua := b.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}

	h := make(http.Header, len(custom)+3)
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", ua)

	for key, value := range custom {
		h.Set(key, value)
	}

	if _, present := h["Authorization"]; present || b.Tokens == nil {
		return h
	}

	token, err := b.Tokens.Token(ctx)
	if err != nil {
		log := b.Log
		if log == nil {
			log = slog.Default()
		}
		log.Warn("token source failed, sending request unauthenticated", "error", err)
		return h
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	return h
}
