package payment

import (
	"context"
	"sync"
	"time"
)

// TokenFetcher obtains a new access token and its lifetime
type TokenFetcher func(ctx context.Context) (token string, ttl time.Duration, err error)

// TokenCache holds one access token and refreshes it shortly before expiry.
// Concurrent callers share a single refresh.
type TokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	skew      time.Duration
	now       func() time.Time
}

// NewTokenCache creates an empty cache that refreshes skew before expiry
func NewTokenCache(skew time.Duration) *TokenCache {
	return &TokenCache{skew: skew, now: time.Now}
}

// Get returns the cached token or fetches a new one
func (c *TokenCache) Get(ctx context.Context, fetch TokenFetcher) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Add(c.skew).Before(c.expiresAt) {
		return c.token, nil
	}

	token, ttl, err := fetch(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	c.expiresAt = c.now().Add(ttl)
	return token, nil
}

// Invalidate drops the cached token, e.g. after the gateway rejects it
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
	c.expiresAt = time.Time{}
}
