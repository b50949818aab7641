package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultExpiry is assumed when the issuer does not say how long a token
// lives.
const DefaultExpiry = time.Hour

// RefreshSkew is how long before expiry a cached token is replaced.
const RefreshSkew = 5 * time.Second

// Credential is a freshly issued token and its lifetime.
type Credential struct {
	Token     string
	ExpiresIn time.Duration
}

// FetchFunc obtains a new credential from the issuer.
type FetchFunc func(ctx context.Context) (Credential, error)

// Cache memoizes a FetchFunc until shortly before the token expires.
// Readers share a read lock; concurrent refreshes collapse into one fetch.
type Cache struct {
	fetch FetchFunc
	now   func() time.Time

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCache wraps fetch.
func NewCache(fetch FetchFunc, opts ...CacheOption) *Cache {
	c := &Cache{fetch: fetch, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached token, fetching a new one when there is none or
// it is within RefreshSkew of expiring.
func (c *Cache) Token(ctx context.Context) (string, error) {
	c.mu.RLock()
	token, expiresAt := c.token, c.expiresAt
	c.mu.RUnlock()

	if token != "" && c.now().Before(expiresAt) {
		return token, nil
	}

	v, err, _ := c.group.Do("token", func() (interface{}, error) {
		return c.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	// Another caller may have refreshed while we waited on the group.
	c.mu.RLock()
	if c.token != "" && c.now().Before(c.expiresAt) {
		token := c.token
		c.mu.RUnlock()
		return token, nil
	}
	c.mu.RUnlock()

	cred, err := c.fetch(ctx)
	if err != nil {
		return "", err
	}

	ttl := cred.ExpiresIn
	if ttl <= 0 {
		ttl = DefaultExpiry
	}

	c.mu.Lock()
	c.token = cred.Token
	c.expiresAt = c.now().Add(ttl - RefreshSkew)
	c.mu.Unlock()

	return cred.Token, nil
}

// Invalidate drops the cached token; the next Token call fetches.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.token = ""
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}
