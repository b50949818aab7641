// Package auth provides the bearer token sources the request executor
// consults when a call carries no Authorization header of its own.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Auth types accepted in the test configuration.
const (
	TypeStatic = "static"
	TypeJWT    = "jwt"
	TypeOAuth2 = "oauth2"
)

// Default environment variable names.
const (
	EnvAuthToken         = "AUTH_TOKEN"
	EnvUsername          = "AUTH_USERNAME"
	EnvPassword          = "AUTH_PASSWORD"
	EnvOAuthClientSecret = "OAUTH_CLIENT_SECRET"
)

// Source yields a bearer token. An empty token with a nil error means
// "send the request unauthenticated".
type Source interface {
	Token(ctx context.Context) (string, error)
}

// LookupFunc resolves an environment variable. os.LookupEnv is the default.
type LookupFunc func(key string) (string, bool)

func (l LookupFunc) get(key string) string {
	if l == nil {
		l = os.LookupEnv
	}
	v, _ := l(key)
	return strings.TrimSpace(v)
}

// Settings is the auth block of a test configuration.
type Settings struct {
	Type string `yaml:"type" json:"type" validate:"omitempty,oneof=static jwt oauth2"`

	// jwt
	LoginURL    string `yaml:"login_url,omitempty" json:"login_url,omitempty" validate:"required_if=Type jwt"`
	UsernameEnv string `yaml:"username_env,omitempty" json:"username_env,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty" json:"password_env,omitempty"`

	// oauth2
	TokenURL        string `yaml:"token_url,omitempty" json:"token_url,omitempty" validate:"required_if=Type oauth2"`
	ClientID        string `yaml:"client_id,omitempty" json:"client_id,omitempty" validate:"required_if=Type oauth2"`
	ClientSecretEnv string `yaml:"client_secret_env,omitempty" json:"client_secret_env,omitempty"`
	Scope           string `yaml:"scope,omitempty" json:"scope,omitempty"`
}

// New builds the Source described by s. An empty type, or "static", reads
// AUTH_TOKEN on every call. Credentials for jwt and oauth2 are read from
// the environment once, here, so a missing secret fails before the run.
func New(s Settings, lookup LookupFunc, client *http.Client) (Source, error) {
	if client == nil {
		client = http.DefaultClient
	}

	switch s.Type {
	case "", TypeStatic:
		return EnvToken{Lookup: lookup}, nil

	case TypeJWT:
		userEnv := orDefault(s.UsernameEnv, EnvUsername)
		passEnv := orDefault(s.PasswordEnv, EnvPassword)
		user, pass := lookup.get(userEnv), lookup.get(passEnv)
		if user == "" || pass == "" {
			return nil, fmt.Errorf("missing JWT credentials in env vars %s/%s", userEnv, passEnv)
		}
		if s.LoginURL == "" {
			return nil, fmt.Errorf("jwt auth requires login_url")
		}
		return NewJWT(s.LoginURL, user, pass, client), nil

	case TypeOAuth2:
		secretEnv := orDefault(s.ClientSecretEnv, EnvOAuthClientSecret)
		secret := lookup.get(secretEnv)
		if secret == "" {
			return nil, fmt.Errorf("missing OAuth2 client secret in environment variable %s", secretEnv)
		}
		if s.TokenURL == "" {
			return nil, fmt.Errorf("oauth2 auth requires token_url")
		}
		return NewOAuth2(s.TokenURL, s.ClientID, secret, s.Scope, client), nil

	default:
		return nil, fmt.Errorf("unsupported auth type %q", s.Type)
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Static always returns the same token.
type Static string

// Token implements Source.
func (s Static) Token(context.Context) (string, error) {
	return string(s), nil
}

// EnvToken reads AUTH_TOKEN at call time, so a token rotated in the
// environment is picked up without a restart.
type EnvToken struct {
	Lookup LookupFunc
}

// Token implements Source.
func (e EnvToken) Token(context.Context) (string, error) {
	return e.Lookup.get(EnvAuthToken), nil
}
