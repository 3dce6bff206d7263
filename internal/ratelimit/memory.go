package ratelimit

import (
	"context"
	"sync"
	"time"
)

// entry tracks the bucket state for one key.
type entry struct {
	tokens float64
	seen   time.Time
}

// MemoryLimiter is an in-process token bucket per key.
//
// Tokens refill continuously at the configured rate up to the burst
// capacity. Keys idle for longer than staleAfter are evicted by a
// janitor goroutine so the map stays bounded under key churn (every
// client IP hitting the auth endpoints creates a key).
type MemoryLimiter struct {
	rate  float64 // tokens per second
	burst float64

	mu      sync.Mutex
	entries map[string]*entry

	closeOnce sync.Once
	done      chan struct{}
}

const (
	staleAfter      = 10 * time.Minute
	janitorInterval = time.Minute
)

// NewMemoryLimiter creates a token bucket limiter allowing a sustained
// rate of `rate` requests per second per key with bursts up to `burst`.
// Call Close to stop the eviction goroutine.
func NewMemoryLimiter(rate float64, burst int) *MemoryLimiter {
	m := &MemoryLimiter{
		rate:    rate,
		burst:   float64(burst),
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	go m.janitor()
	return m
}

// Allow takes one token from the key's bucket. New keys start full.
func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok {
		e = &entry{tokens: m.burst, seen: now}
		m.entries[key] = e
	}

	e.tokens += now.Sub(e.seen).Seconds() * m.rate
	if e.tokens > m.burst {
		e.tokens = m.burst
	}
	e.seen = now

	if e.tokens < 1 {
		return false, nil
	}
	e.tokens--
	return true, nil
}

// Close stops the janitor goroutine.
func (m *MemoryLimiter) Close() error {
	m.closeOnce.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryLimiter) janitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryLimiter) evictStale() {
	cutoff := time.Now().Add(-staleAfter)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, e := range m.entries {
		if e.seen.Before(cutoff) {
			delete(m.entries, key)
		}
	}
}
