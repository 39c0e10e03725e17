package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter keeps per-key hit timestamps in process memory. It serves as
// the fallback when Redis is unavailable and as the only backend without Redis.
type MemoryLimiter struct {
	mu   sync.Mutex
	hits map[string][]time.Time
	now  func() time.Time
}

// NewMemoryLimiter returns an empty in-memory limiter.
func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{
		hits: make(map[string][]time.Time),
		now:  time.Now,
	}
}

// Check enforces a sliding-window limit for key. Rejected hits are not recorded.
func (m *MemoryLimiter) Check(_ context.Context, key string, limit int, window time.Duration) (*Result, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	hits := dropBefore(m.hits[key], now.Add(-window))

	if limit <= 0 || len(hits) >= limit {
		m.hits[key] = hits
		resetAt := now.Add(window)
		if len(hits) > 0 {
			resetAt = hits[0].Add(window)
		}
		return &Result{Allowed: false, Remaining: 0, ResetAt: resetAt}, ErrLimitExceeded
	}

	hits = append(hits, now)
	m.hits[key] = hits

	return &Result{
		Allowed:   true,
		Remaining: limit - len(hits),
		ResetAt:   hits[0].Add(window),
	}, nil
}

// Sweep forgets keys without a hit in the last maxAge and returns how many it dropped.
func (m *MemoryLimiter) Sweep(maxAge time.Duration) int {
	if maxAge <= 0 {
		return 0
	}

	cutoff := m.now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, hits := range m.hits {
		if len(hits) == 0 || hits[len(hits)-1].Before(cutoff) {
			delete(m.hits, key)
			removed++
		}
	}

	return removed
}

// Len reports the number of tracked keys.
func (m *MemoryLimiter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.hits)
}

func dropBefore(hits []time.Time, windowStart time.Time) []time.Time {
	i := 0
	for i < len(hits) && hits[i].Before(windowStart) {
		i++
	}

	if i == 0 {
		return hits
	}

	return append(hits[:0], hits[i:]...)
}
