package enginereg

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultAuthCacheTTL is the cache lifetime for auth-check results:
// stale checks are acceptable since a genuine auth failure still
// surfaces at invocation time.
const DefaultAuthCacheTTL = 5 * time.Minute

type authEntry struct {
	isAuthenticated bool
	checkedAt       time.Time
}

// AuthCache memoizes auth-check results per engine id. Concurrent
// IsAuthenticated calls for the same id are collapsed into one in-flight
// subprocess-backed check via singleflight, since an auth check can
// block for tens of seconds.
type AuthCache struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]authEntry

	group singleflight.Group
}

// NewAuthCache constructs an AuthCache with the given TTL.
func NewAuthCache(ttl time.Duration) *AuthCache {
	if ttl <= 0 {
		ttl = DefaultAuthCacheTTL
	}
	return &AuthCache{ttl: ttl, entries: make(map[string]authEntry)}
}

// IsAuthenticated returns a cached result if fresh, otherwise invokes
// check (typically engine.Auth().IsAuthenticated) and caches the
// result. Concurrent calls for the same engineID share one in-flight
// check.
func (c *AuthCache) IsAuthenticated(ctx context.Context, engineID string, check func(context.Context) (bool, error)) (bool, error) {
	if cached, ok := c.lookup(engineID); ok {
		return cached, nil
	}

	v, err, _ := c.group.Do(engineID, func() (any, error) {
		// Re-check under the singleflight key in case a concurrent
		// caller just populated the cache.
		if cached, ok := c.lookup(engineID); ok {
			return cached, nil
		}
		ok, err := check(ctx)
		if err != nil {
			return false, err
		}
		c.store(engineID, ok)
		return ok, nil
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (c *AuthCache) lookup(engineID string) (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[engineID]
	if !ok || time.Since(e.checkedAt) >= c.ttl {
		return false, false
	}
	return e.isAuthenticated, true
}

func (c *AuthCache) store(engineID string, isAuthenticated bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[engineID] = authEntry{isAuthenticated: isAuthenticated, checkedAt: time.Now()}
}

// Invalidate drops the cached result for one engine id.
func (c *AuthCache) Invalidate(engineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, engineID)
}

// Clear drops every cached result.
func (c *AuthCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]authEntry)
}
