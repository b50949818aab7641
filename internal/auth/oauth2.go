package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// NewOAuth2 returns a cached Source using the client_credentials grant.
// Credentials are sent in the form body, alongside the scope.
func NewOAuth2(tokenURL, clientID, clientSecret, scope string, client *http.Client, opts ...CacheOption) *Cache {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       strings.Fields(scope),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if client == nil {
		client = http.DefaultClient
	}

	c := NewCache(nil, opts...)
	c.fetch = func(ctx context.Context) (Credential, error) {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
		tok, err := cfg.Token(ctx)
		if err != nil {
			return Credential{}, fmt.Errorf("OAuth2 token request failed: %w", err)
		}
		if tok.AccessToken == "" {
			return Credential{}, fmt.Errorf("OAuth2 token response missing access_token")
		}

		var ttl time.Duration
		if !tok.Expiry.IsZero() {
			ttl = time.Until(tok.Expiry)
			if ttl <= RefreshSkew {
				ttl = RefreshSkew + time.Second
			}
		}
		return Credential{Token: tok.AccessToken, ExpiresIn: ttl}, nil
	}
	return c
}
