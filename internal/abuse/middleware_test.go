package abuse

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/movalabs/panelgate/internal/securitylog"
)

func newTestGate(t *testing.T, limit int) (*Gate, *Tracker, *Limiter) {
	t.Helper()
	recorder := securitylog.NewRecorder(nil, nil)
	t.Cleanup(recorder.Close)
	tracker := NewTracker(15*time.Minute, 10, time.Hour)
	limiter := NewLimiter(limit, time.Minute)
	t.Cleanup(limiter.Stop)
	return NewGate(tracker, recorder), tracker, limiter
}

func gateRequest(t *testing.T, gate *Gate, limiter *Limiter, ip string) *httptest.ResponseRecorder {
	t.Helper()
	handler := gate.Limit(limiter, "auth")(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.Header.Set("X-Real-IP", ip)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func rejectionMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Error.Message
}

func TestGate_LimiterExhaustedRejects(t *testing.T) {
	gate, _, limiter := newTestGate(t, 2)

	for i := 0; i < 2; i++ {
		if rec := gateRequest(t, gate, limiter, "203.0.113.7"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := gateRequest(t, gate, limiter, "203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestGate_BlockedSourceRejected(t *testing.T) {
	gate, tracker, limiter := newTestGate(t, 100)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure("203.0.113.7")
	}

	rec := gateRequest(t, gate, limiter, "203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429 for a blocked source", rec.Code)
	}
	if rec := gateRequest(t, gate, limiter, "198.51.100.9"); rec.Code != http.StatusOK {
		t.Fatalf("other sources must pass, got %d", rec.Code)
	}
}

func TestGate_LimiterRunsBeforeTracker(t *testing.T) {
	gate, tracker, limiter := newTestGate(t, 1)

	for i := 0; i < 10; i++ {
		tracker.RecordFailure("203.0.113.7")
	}
	gateRequest(t, gate, limiter, "203.0.113.7")

	// Both conditions hold; the counter must answer, the tracker state is
	// never consulted.
	rec := gateRequest(t, gate, limiter, "203.0.113.7")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rejectionMessage(t, rec); got != "Too many attempts. Please try again later." {
		t.Errorf("rejection message %q came from the tracker, want the window limiter", got)
	}
}
