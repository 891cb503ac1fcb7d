package rate

import (
	"context"
	"sync"
	"time"
)

// MemoryLimiter is a per-process fixed-window limiter for dev and
// single-instance deployments.
type MemoryLimiter struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	entries      map[string]*window
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type window struct {
	count int
	reset time.Time
}

func NewMemory(limit int, every time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		limit:        limit,
		window:       every,
		entries:      map[string]*window{},
		cleanupEvery: every,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupEvery {
		for k, w := range l.entries {
			if !now.Before(w.reset) {
				delete(l.entries, k)
			}
		}
		l.lastCleanup = now
	}

	w, ok := l.entries[key]
	if !ok || !now.Before(w.reset) {
		l.entries[key] = &window{count: 1, reset: now.Add(l.window)}
		return true, 0, nil
	}
	if w.count >= l.limit {
		return false, w.reset.Sub(now), nil
	}
	w.count++
	return true, 0, nil
}
