package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits at most Limit calls per key within any Window. A zero Limit
// admits everything.
type Limiter struct {
	Limit  int
	Window time.Duration

	mu    sync.Mutex
	now   func() time.Time
	calls map[string][]time.Time
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		Limit:  limit,
		Window: window,
		now:    time.Now,
		calls:  map[string][]time.Time{},
	}
}

type Result struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

func (l *Limiter) Allow(key string) Result {
	if l == nil || l.Limit <= 0 {
		return Result{Allowed: true}
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.Window)
	kept := l.calls[key][:0]
	for _, ts := range l.calls[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.Limit {
		l.calls[key] = kept
		return Result{RetryAt: kept[0].Add(l.Window)}
	}
	kept = append(kept, now)
	l.calls[key] = kept
	return Result{
		Allowed:   true,
		Remaining: l.Limit - len(kept),
		RetryAt:   kept[0].Add(l.Window),
	}
}
