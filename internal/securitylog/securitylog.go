// Package securitylog appends structured auth-relevant events to an audit
// sink. Recording is fire-and-forget: a failure to persist an event must
// never block or fail the operation that produced it.
package securitylog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/movalabs/panelgate/internal/metrics"
	"github.com/movalabs/panelgate/internal/repository"
)

// Event categories
const (
	CategoryLoginSuccess       = "login_success"
	CategoryLoginFailure       = "login_failure"
	CategoryRegistration       = "registration"
	CategoryAccountLockout     = "account_lockout"
	CategorySuspiciousActivity = "suspicious_activity"
	CategoryFederationLink     = "federation_link"
	CategoryPasswordChange     = "password_change"
	CategoryRateLimited        = "rate_limited"
)

// Event is one auth-relevant occurrence. Fields hold bounded key/value
// context; plaintext credentials must never be placed in them.
type Event struct {
	Category  string
	IP        string
	AccountID *int64
	Fields    map[string]string
}

// Recorder buffers events and writes them to the audit table from a single
// background goroutine. When the buffer is full the event is dropped and
// counted rather than blocking the caller.
type Recorder struct {
	repo   repository.SecurityEventRepository
	logger *slog.Logger
	events chan Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

const defaultBuffer = 256

// NewRecorder creates a Recorder and starts its writer goroutine.
func NewRecorder(repo repository.SecurityEventRepository, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		repo:   repo,
		logger: logger,
		events: make(chan Event, defaultBuffer),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record enqueues an event. It never blocks and never reports an error to
// the caller; the primary operation has already succeeded or failed on its
// own terms. Events recorded after Close are dropped, so a straggling
// request during shutdown cannot crash the process.
func (r *Recorder) Record(event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		metrics.SecurityEventsDroppedTotal.Inc()
		r.logger.Warn("security event dropped, recorder closed", "category", event.Category)
		return
	}
	select {
	case r.events <- event:
	default:
		metrics.SecurityEventsDroppedTotal.Inc()
		r.logger.Warn("security event dropped, buffer full", "category", event.Category)
	}
}

// run drains the event channel until Close is called, then flushes what is
// left in the buffer.
func (r *Recorder) run() {
	defer close(r.done)
	for event := range r.events {
		r.write(event)
	}
}

func (r *Recorder) write(event Event) {
	attrs := []any{
		slog.String("category", event.Category),
		slog.String("ip", event.IP),
	}
	if event.AccountID != nil {
		attrs = append(attrs, slog.Int64("account_id", *event.AccountID))
	}
	for k, v := range event.Fields {
		attrs = append(attrs, slog.String(k, v))
	}
	r.logger.Info("security event", attrs...)

	if r.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	record := &repository.SecurityEvent{
		Category:  event.Category,
		IPAddress: event.IP,
		AccountID: event.AccountID,
		Fields:    event.Fields,
	}
	if err := r.repo.Append(ctx, record); err != nil {
		r.logger.Warn("failed to persist security event", "category", event.Category, "error", err)
	}
}

// Close stops accepting events and waits for the buffer to drain.
func (r *Recorder) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	<-r.done
}
