package auth

import (
	"context"
	"sync"
	"time"
)

// DefaultSessionCacheTTL bounds how stale a cached "session is valid"
// answer may be. A revoked session is rejected at most this long after
// revocation instead of on the next request.
const DefaultSessionCacheTTL = 30 * time.Second

// SessionCache wraps a SessionChecker and remembers positive answers
// for a short TTL, so a burst of requests from one dashboard session
// does not turn into a burst of validation calls against the identity
// service. Negative answers are never cached; a rejected token is
// re-checked every time it shows up.
type SessionCache struct {
	inner SessionChecker
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]time.Time
}

// NewSessionCache wraps inner with a positive-result cache. A zero ttl
// selects DefaultSessionCacheTTL.
func NewSessionCache(inner SessionChecker, ttl time.Duration) *SessionCache {
	if ttl <= 0 {
		ttl = DefaultSessionCacheTTL
	}
	return &SessionCache{
		inner:   inner,
		ttl:     ttl,
		entries: make(map[string]time.Time),
	}
}

// ValidateSession implements SessionChecker.
func (c *SessionCache) ValidateSession(ctx context.Context, rawToken string) error {
	c.mu.RLock()
	expiry, ok := c.entries[rawToken]
	c.mu.RUnlock()
	if ok && time.Now().Before(expiry) {
		return nil
	}

	if err := c.inner.ValidateSession(ctx, rawToken); err != nil {
		return err
	}

	c.mu.Lock()
	c.entries[rawToken] = time.Now().Add(c.ttl)
	c.cleanupLocked()
	c.mu.Unlock()
	return nil
}

// cleanupLocked drops expired entries once the map is large enough to
// care. Tokens expire on their own, so the cache never needs a
// background sweeper.
func (c *SessionCache) cleanupLocked() {
	if len(c.entries) < 128 {
		return
	}
	now := time.Now()
	for token, expiry := range c.entries {
		if now.After(expiry) {
			delete(c.entries, token)
		}
	}
}

// Len reports the number of cached sessions, expired or not.
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
