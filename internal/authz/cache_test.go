package authz

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
)

func TestGrantCache_GetSet(t *testing.T) {
	c := NewGrantCache(time.Second)
	defer c.Close()

	// Miss on empty cache.
	got, ok := c.Get("sub")
	assert.False(t, ok)
	assert.Nil(t, got)

	// Set and hit.
	clientA := uuid.New()
	clientB := uuid.New()
	scopes := map[uuid.UUID]model.GrantScope{
		clientA: model.GrantScopeRead,
		clientB: model.GrantScopeWriteTraits,
	}
	c.Set("sub", scopes)

	got, ok = c.Get("sub")
	require.True(t, ok)
	assert.Equal(t, scopes, got)
}

func TestGrantCache_Expiry(t *testing.T) {
	c := NewGrantCache(50 * time.Millisecond)
	defer c.Close()

	c.Set("sub", map[uuid.UUID]model.GrantScope{uuid.New(): model.GrantScopeRead})

	// Should be present immediately.
	_, ok := c.Get("sub")
	require.True(t, ok)

	// Wait for expiry.
	time.Sleep(60 * time.Millisecond)

	_, ok = c.Get("sub")
	assert.False(t, ok, "entry should have expired")
}

func TestGrantCache_Invalidate(t *testing.T) {
	c := NewGrantCache(time.Minute)
	defer c.Close()

	c.Set("sub", map[uuid.UUID]model.GrantScope{uuid.New(): model.GrantScopeRead})
	c.Invalidate("sub")

	_, ok := c.Get("sub")
	assert.False(t, ok, "invalidated entry should miss")
}

func TestGrantCache_EvictExpired(t *testing.T) {
	c := NewGrantCache(10 * time.Millisecond)
	defer c.Close()

	c.Set("key1", map[uuid.UUID]model.GrantScope{uuid.New(): model.GrantScopeRead})
	c.Set("key2", map[uuid.UUID]model.GrantScope{uuid.New(): model.GrantScopeRead})

	time.Sleep(20 * time.Millisecond)

	c.evictExpired()

	c.mu.RLock()
	assert.Empty(t, c.entries, "evictExpired should have removed all expired entries")
	c.mu.RUnlock()
}

func TestGrantCache_DifferentKeys(t *testing.T) {
	c := NewGrantCache(time.Second)
	defer c.Close()

	a := uuid.New()
	b := uuid.New()
	c.Set("sub1", map[uuid.UUID]model.GrantScope{a: model.GrantScopeRead})
	c.Set("sub2", map[uuid.UUID]model.GrantScope{b: model.GrantScopeRead})

	got1, ok := c.Get("sub1")
	require.True(t, ok)
	_, hasA := got1[a]
	_, hasB := got1[b]
	assert.True(t, hasA)
	assert.False(t, hasB)

	got2, ok := c.Get("sub2")
	require.True(t, ok)
	_, hasB = got2[b]
	assert.True(t, hasB)
}
