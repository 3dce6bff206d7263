package personalize

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mindfork/mindfork/internal/rules"
)

// ruleCache memoizes the prepared rule set. Predicates and effects parse once
// per reload, not once per resolution; parsing is where malformed rule JSON
// gets mapped to its fail-open form, so a cached rule never errors later.
//
// It implements rules.RuleSource.
type ruleCache struct {
	store Store

	mu       sync.RWMutex
	prepared []rules.Rule
	valid    bool

	group    singleflight.Group
	onReload func(n int)
}

func newRuleCache(store Store) *ruleCache {
	return &ruleCache{store: store}
}

// ActiveRules returns the cached prepared rules, reloading from storage on
// the first call after an invalidation. Concurrent misses collapse into one
// storage read.
func (c *ruleCache) ActiveRules(ctx context.Context) ([]rules.Rule, error) {
	c.mu.RLock()
	if c.valid {
		prepared := c.prepared
		c.mu.RUnlock()
		return prepared, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("reload", func() (any, error) {
		stored, err := c.store.ActiveRules(ctx)
		if err != nil {
			return nil, err
		}
		prepared := rules.PrepareAll(stored)

		c.mu.Lock()
		c.prepared = prepared
		c.valid = true
		c.mu.Unlock()

		if c.onReload != nil {
			c.onReload(len(prepared))
		}
		return prepared, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]rules.Rule), nil
}

// Invalidate marks the cache stale. The rules themselves stay readable until
// the next ActiveRules call replaces them.
func (c *ruleCache) Invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}
