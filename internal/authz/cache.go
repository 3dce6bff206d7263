package authz

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
)

// GrantCache is a short-TTL in-memory cache for LoadClientScopes results.
// It eliminates a grants query per request for coach callers by caching the
// set of client IDs each caller can access.
//
// Key: the JWT subject. Value: client ID → granted scope, plus expiry.
// Revocations therefore take effect within one TTL, which is why the TTL
// stays short.
type GrantCache struct {
	mu      sync.RWMutex
	entries map[string]cachedEntry
	ttl     time.Duration
	done    chan struct{}
}

type cachedEntry struct {
	scopes    map[uuid.UUID]model.GrantScope
	expiresAt time.Time
}

// NewGrantCache creates a new cache with the given TTL.
// Call Close to stop the background eviction goroutine.
func NewGrantCache(ttl time.Duration) *GrantCache {
	c := &GrantCache{
		entries: make(map[string]cachedEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.evictLoop()
	return c
}

// Get returns the cached scope set and true if a valid entry exists.
// Returns nil, false on miss or expiry.
func (c *GrantCache) Get(key string) (map[uuid.UUID]model.GrantScope, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.scopes, true
}

// Set stores a scope set with the configured TTL.
func (c *GrantCache) Set(key string, scopes map[uuid.UUID]model.GrantScope) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cachedEntry{
		scopes:    scopes,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// Invalidate drops one caller's entry. Called when a grant involving them is
// created or revoked, so the change is visible before the TTL lapses.
func (c *GrantCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Close stops the background eviction goroutine.
func (c *GrantCache) Close() {
	close(c.done)
}

// evictLoop removes expired entries every minute.
func (c *GrantCache) evictLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *GrantCache) evictExpired() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
