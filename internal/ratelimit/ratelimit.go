// Package ratelimit implements a per-key sliding-window limiter for
// submission and auth-adjacent endpoints. State is ephemeral: losing a
// window early only weakens limiting, it never breaks scoring
// correctness.
package ratelimit

import (
	"sync"
	"time"
)

// Limiter admits up to limit events per key within a rolling window.
// Expired timestamps are evicted lazily on each check; Sweep drops
// idle keys entirely so memory stays bounded.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
}

func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		limit:  limit,
		window: window,
		hits:   map[string][]time.Time{},
	}
}

// Allow records an attempt for key at time now and reports whether it
// is admitted. When rejected, retryAfter is the wait until the oldest
// in-window attempt expires; it is always positive on rejection.
func (l *Limiter) Allow(key string, now time.Time) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.evict(key, now)

	if len(stamps) >= l.limit {
		retryAfter := stamps[0].Add(l.window).Sub(now)
		if retryAfter <= 0 {
			retryAfter = time.Second
		}
		return false, retryAfter
	}

	l.hits[key] = append(stamps, now)
	return true, 0
}

// Remaining reports how many attempts key has left in the current
// window without recording one.
func (l *Limiter) Remaining(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	stamps := l.evict(key, now)
	if remaining := l.limit - len(stamps); remaining > 0 {
		return remaining
	}
	return 0
}

// Sweep removes keys whose attempts have all expired and returns the
// number of keys dropped. Intended for a periodic cleanup goroutine.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	dropped := 0
	for key, stamps := range l.hits {
		live := trim(stamps, cutoff)
		if len(live) == 0 {
			delete(l.hits, key)
			dropped++
		} else {
			l.hits[key] = live
		}
	}
	return dropped
}

// evict must be called with the lock held.
func (l *Limiter) evict(key string, now time.Time) []time.Time {
	live := trim(l.hits[key], now.Add(-l.window))
	if len(live) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = live
	return live
}

func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	// Stamps are appended in order, so find the first live one.
	idx := 0
	for idx < len(stamps) && !stamps[idx].After(cutoff) {
		idx++
	}
	if idx == 0 {
		return stamps
	}
	return append([]time.Time(nil), stamps[idx:]...)
}
