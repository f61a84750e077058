package ratelimit

import (
	"context"
	"sync"
	"time"
)

// window is one fixed counting window for a (prefix, key) pair.
type window struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter implements Limiter with an in-memory fixed window per
// (rule prefix, key). A background goroutine evicts expired windows every
// minute to bound memory.
type MemoryLimiter struct {
	mu      sync.Mutex
	windows map[string]*window

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryLimiter creates the in-memory limiter and starts its cleanup
// goroutine. Call Close to stop it.
func NewMemoryLimiter() *MemoryLimiter {
	m := &MemoryLimiter{
		windows: make(map[string]*window),
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Allow counts one request for key under rule's prefix. When the current
// window has expired a fresh one is started.
func (m *MemoryLimiter) Allow(_ context.Context, rule Rule, key string) Result {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	wkey := rule.Prefix + ":" + key
	w, ok := m.windows[wkey]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(rule.Window)}
		m.windows[wkey] = w
	}
	w.count++

	remaining := rule.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.count <= rule.Limit,
		Limit:     rule.Limit,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryLimiter) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

// cleanup periodically drops windows whose reset time has passed.
func (m *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictExpired()
		}
	}
}

func (m *MemoryLimiter) evictExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}
