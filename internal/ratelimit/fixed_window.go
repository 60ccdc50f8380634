package ratelimit

import (
	"context"
	"sync"
	"time"
)

type windowEntry struct {
	count   int
	resetAt time.Time
}

// FixedWindowLimiter counts requests per key inside discrete windows.
// One mutex guards the whole table so check-then-increment never loses updates.
type FixedWindowLimiter struct {
	mu        sync.Mutex
	cfg       Config
	entries   map[string]*windowEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewFixedWindowLimiter creates a limiter owning an empty table.
func NewFixedWindowLimiter(cfg Config) (*FixedWindowLimiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &FixedWindowLimiter{
		cfg:     cfg,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}, nil
}

// WithClock replaces the clock used by Allow.
func (l *FixedWindowLimiter) WithClock(now func() time.Time) *FixedWindowLimiter {
	if now != nil {
		l.now = now
	}
	return l
}

// Config returns the budget the limiter enforces.
func (l *FixedWindowLimiter) Config() Config {
	return l.cfg
}

// Allow checks key against the current clock. It never fails.
func (l *FixedWindowLimiter) Allow(_ context.Context, key string) (Decision, error) {
	return l.CheckAndConsume(key, l.now()), nil
}

// CheckAndConsume admits the request when key still has budget in its window,
// consuming one slot, and rejects it otherwise.
func (l *FixedWindowLimiter) CheckAndConsume(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweepLocked(now)

	e, ok := l.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &windowEntry{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.entries[key] = e
		return l.admit(e)
	}

	if e.count < l.cfg.MaxRequests {
		e.count++
		return l.admit(e)
	}

	retryAfter := e.resetAt.Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}

	return Decision{
		Allowed:    false,
		Limit:      l.cfg.MaxRequests,
		Remaining:  0,
		ResetAt:    e.resetAt,
		RetryAfter: retryAfter,
	}
}

func (l *FixedWindowLimiter) admit(e *windowEntry) Decision {
	return Decision{
		Allowed:   true,
		Limit:     l.cfg.MaxRequests,
		Remaining: l.cfg.MaxRequests - e.count,
		ResetAt:   e.resetAt,
	}
}

// sweepLocked drops entries that ended more than a window ago, at most once per window.
func (l *FixedWindowLimiter) sweepLocked(now time.Time) {
	if now.Sub(l.lastSweep) < l.cfg.Window {
		return
	}
	l.lastSweep = now

	cutoff := now.Add(-l.cfg.Window)
	for key, e := range l.entries {
		if !e.resetAt.After(cutoff) {
			delete(l.entries, key)
		}
	}
}

// Purge removes every entry whose window has ended and returns how many were dropped.
func (l *FixedWindowLimiter) Purge(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *FixedWindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
