package abuse

import (
	"testing"
	"time"
)

func TestLimiter_CapsRequests(t *testing.T) {
	limiter := NewLimiter(5, time.Hour)
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("192.0.2.1") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if limiter.Allow("192.0.2.1") {
		t.Fatal("6th request in the window must be rejected")
	}
	if limiter.Remaining("192.0.2.1") != 0 {
		t.Errorf("expected 0 remaining, got %d", limiter.Remaining("192.0.2.1"))
	}

	// A different key has its own budget.
	if !limiter.Allow("192.0.2.2") {
		t.Fatal("unrelated key must be unaffected")
	}
}

func TestLimiter_WindowExpiry(t *testing.T) {
	limiter := NewLimiter(2, 30*time.Millisecond)
	defer limiter.Stop()

	limiter.Allow("192.0.2.1")
	limiter.Allow("192.0.2.1")
	if limiter.Allow("192.0.2.1") {
		t.Fatal("limit reached, request must be rejected")
	}

	time.Sleep(50 * time.Millisecond)

	if !limiter.Allow("192.0.2.1") {
		t.Fatal("budget must replenish after the window passes")
	}
}

func TestLimiter_Reset(t *testing.T) {
	limiter := NewLimiter(1, time.Hour)
	defer limiter.Stop()

	before := time.Now()
	limiter.Allow("192.0.2.1")

	reset := limiter.Reset("192.0.2.1")
	if reset.Before(before.Add(59 * time.Minute)) {
		t.Errorf("reset time too early: %v", reset)
	}
}
