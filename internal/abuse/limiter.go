package abuse

import (
	"sync"
	"time"
)

// Limiter is a simple in-memory fixed-window rate limiter keyed by source.
// It sits in front of the failure tracker and caps total attempts per
// source regardless of outcome.
type Limiter struct {
	mu       sync.RWMutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter creates a rate limiter allowing limit requests per window and
// starts its cleanup goroutine.
func NewLimiter(limit int, window time.Duration) *Limiter {
	l := &Limiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		stop:     make(chan struct{}),
	}

	go l.cleanup()

	return l
}

// Allow checks if a request is allowed for the given key
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-l.window)

	requests := l.requests[key]

	var valid []time.Time
	for _, t := range requests {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= l.limit {
		l.requests[key] = valid
		return false
	}

	valid = append(valid, now)
	l.requests[key] = valid

	return true
}

// Remaining returns the number of remaining requests for a key
func (l *Limiter) Remaining(key string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	now := time.Now()
	windowStart := now.Add(-l.window)

	count := 0
	for _, t := range l.requests[key] {
		if t.After(windowStart) {
			count++
		}
	}

	remaining := l.limit - count
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset returns the time when the rate limit resets for a key
func (l *Limiter) Reset(key string) time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()

	requests := l.requests[key]
	if len(requests) == 0 {
		return time.Now()
	}

	oldest := requests[0]
	for _, t := range requests {
		if t.Before(oldest) {
			oldest = t
		}
	}

	return oldest.Add(l.window)
}

// Stop terminates the cleanup goroutine
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
	})
}

// cleanup periodically removes old entries
func (l *Limiter) cleanup() {
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.mu.Lock()
			windowStart := time.Now().Add(-l.window)
			for key, requests := range l.requests {
				var valid []time.Time
				for _, t := range requests {
					if t.After(windowStart) {
						valid = append(valid, t)
					}
				}
				if len(valid) == 0 {
					delete(l.requests, key)
				} else {
					l.requests[key] = valid
				}
			}
			l.mu.Unlock()
		}
	}
}
