// Package abuse implements per-source-IP failed-attempt tracking and rate
// limiting for the authentication endpoints.
package abuse

import (
	"context"
	"sync"
	"time"
)

// record tracks failures from one source IP. The window slides: the anchor
// moves only when the previous attempt falls outside the window, it does not
// reset on every hit.
type record struct {
	count        int
	lastAttempt  time.Time
	blockedUntil time.Time
}

// Tracker is the failed-attempt state machine: clean -> warming -> tripped
// (threshold failures inside the window) -> blocked for a fixed duration,
// after which the source resets to clean.
type Tracker struct {
	mu        sync.Mutex
	records   map[string]*record
	window    time.Duration
	threshold int
	blockFor  time.Duration
}

// NewTracker creates a Tracker with the given sliding window, failure
// threshold, and block duration.
func NewTracker(window time.Duration, threshold int, blockFor time.Duration) *Tracker {
	return &Tracker{
		records:   make(map[string]*record),
		window:    window,
		threshold: threshold,
		blockFor:  blockFor,
	}
}

// Blocked reports whether the source is currently blocked and, if so, when
// the block lifts. An expired block resets the record to clean.
func (t *Tracker) Blocked(source string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[source]
	if !ok {
		return false, time.Time{}
	}

	now := time.Now()
	if !rec.blockedUntil.IsZero() {
		if now.Before(rec.blockedUntil) {
			return true, rec.blockedUntil
		}
		delete(t.records, source)
		return false, time.Time{}
	}

	return false, time.Time{}
}

// RecordFailure registers a failed authentication attempt from the source.
// It returns whether the failure tripped the block and the block deadline.
func (t *Tracker) RecordFailure(source string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	rec, ok := t.records[source]
	if !ok {
		t.records[source] = &record{count: 1, lastAttempt: now}
		return false, time.Time{}
	}

	if !rec.blockedUntil.IsZero() && now.Before(rec.blockedUntil) {
		return true, rec.blockedUntil
	}

	if now.Sub(rec.lastAttempt) > t.window {
		rec.count = 1
	} else {
		rec.count++
	}
	rec.lastAttempt = now

	if rec.count >= t.threshold {
		rec.blockedUntil = now.Add(t.blockFor)
		return true, rec.blockedUntil
	}

	return false, time.Time{}
}

// Failures returns the current failure count for a source. Used by tests
// and diagnostics.
func (t *Tracker) Failures(source string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[source]
	if !ok {
		return 0
	}
	return rec.count
}

// StartSweep garbage-collects stale records on a fixed interval until ctx
// ends. A record is stale when its window has elapsed and any block has
// lifted.
func (t *Tracker) StartSweep(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.sweep()
			}
		}
	}()
}

func (t *Tracker) sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for source, rec := range t.records {
		blockLifted := rec.blockedUntil.IsZero() || now.After(rec.blockedUntil)
		windowElapsed := now.Sub(rec.lastAttempt) > t.window
		if blockLifted && windowElapsed {
			delete(t.records, source)
		}
	}
}
