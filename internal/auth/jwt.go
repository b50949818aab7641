package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// NewJWT returns a cached Source that logs in with username and password
// at loginURL. The login is a form POST; the response must be JSON with
// "token" or "access_token" and may carry "expires_in" in seconds.
func NewJWT(loginURL, username, password string, client *http.Client, opts ...CacheOption) *Cache {
	if client == nil {
		client = http.DefaultClient
	}
	return NewCache(jwtLogin(loginURL, username, password, client), opts...)
}

type loginResponse struct {
	Token       string  `json:"token"`
	AccessToken string  `json:"access_token"`
	ExpiresIn   float64 `json:"expires_in"`
}

func jwtLogin(loginURL, username, password string, client *http.Client) FetchFunc {
	return func(ctx context.Context) (Credential, error) {
		form := url.Values{"username": {username}, "password": {password}}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
		if err != nil {
			return Credential{}, fmt.Errorf("building JWT login request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return Credential{}, fmt.Errorf("JWT login: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return Credential{}, fmt.Errorf("JWT login failed: HTTP %d", resp.StatusCode)
		}

		var body loginResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Credential{}, fmt.Errorf("decoding JWT login response: %w", err)
		}

		token := body.Token
		if token == "" {
			token = body.AccessToken
		}
		if token == "" {
			return Credential{}, fmt.Errorf("JWT login response missing token")
		}

		return Credential{
			Token:     token,
			ExpiresIn: time.Duration(body.ExpiresIn * float64(time.Second)),
		}, nil
	}
}
