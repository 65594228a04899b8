package securitylog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/movalabs/panelgate/internal/repository"
)

type mockEventRepository struct {
	mu     sync.Mutex
	events []*repository.SecurityEvent
	gate   chan struct{}
}

func (m *mockEventRepository) Append(_ context.Context, event *repository.SecurityEvent) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockEventRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func TestRecorder_PersistsEvents(t *testing.T) {
	repo := &mockEventRepository{}
	recorder := NewRecorder(repo, nil)

	accountID := int64(9)
	recorder.Record(Event{
		Category:  CategoryLoginFailure,
		IP:        "203.0.113.7",
		AccountID: &accountID,
		Fields:    map[string]string{"identifier": "op@example.com"},
	})
	recorder.Record(Event{Category: CategoryRateLimited, IP: "203.0.113.7"})

	// Close drains whatever is still buffered.
	recorder.Close()

	if got := repo.count(); got != 2 {
		t.Fatalf("persisted %d events, want 2", got)
	}
	repo.mu.Lock()
	first := repo.events[0]
	repo.mu.Unlock()
	if first.Category != CategoryLoginFailure || first.IPAddress != "203.0.113.7" {
		t.Errorf("event persisted wrong: %+v", first)
	}
	if first.AccountID == nil || *first.AccountID != 9 {
		t.Error("account id not carried through")
	}
}

func TestRecorder_NeverBlocksWhenBufferFull(t *testing.T) {
	repo := &mockEventRepository{gate: make(chan struct{})}
	recorder := NewRecorder(repo, nil)

	// The writer goroutine is stuck on the first event; everything past the
	// buffer capacity must be dropped rather than block the caller.
	done := make(chan struct{})
	go func() {
		for i := 0; i < defaultBuffer*2; i++ {
			recorder.Record(Event{Category: CategorySuspiciousActivity, IP: "203.0.113.7"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Record blocked with a full buffer")
	}

	close(repo.gate)
	recorder.Close()

	// One in-flight write plus at most a full buffer survive.
	if got := repo.count(); got > defaultBuffer+1 {
		t.Fatalf("persisted %d events, want at most %d", got, defaultBuffer+1)
	}
}

func TestRecorder_NilRepositoryLogsOnly(t *testing.T) {
	recorder := NewRecorder(nil, nil)
	recorder.Record(Event{Category: CategoryRegistration, IP: "203.0.113.7"})
	recorder.Close()
}

func TestRecorder_CloseIdempotent(t *testing.T) {
	recorder := NewRecorder(&mockEventRepository{}, nil)
	recorder.Close()
	recorder.Close()
}

func TestRecorder_RecordAfterCloseDropsQuietly(t *testing.T) {
	repo := &mockEventRepository{}
	recorder := NewRecorder(repo, nil)
	recorder.Close()

	// A straggling request during shutdown must be dropped, never panic.
	recorder.Record(Event{Category: CategoryLoginFailure, IP: "203.0.113.7"})

	if got := repo.count(); got != 0 {
		t.Fatalf("persisted %d events after close, want 0", got)
	}
}
