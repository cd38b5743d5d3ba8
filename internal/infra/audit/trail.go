package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atlas-fin/securecore/internal/domain"
)

const (
	// maxEvents caps the in-memory trail; on overflow the oldest
	// evictBatch entries are dropped in one pass.
	maxEvents  = 10_000
	evictBatch = 1_000
)

// Trail is an append-only, capped, in-memory audit log. Every event is
// mirrored to the structured logger at a level matching its severity and,
// when a repository is configured, forwarded for durable storage.
type Trail struct {
	mu     sync.RWMutex
	events []domain.AuditEvent

	logger *slog.Logger
	repo   domain.AuditRepository
	now    func() time.Time
}

// Option configures a Trail.
type Option func(*Trail)

// WithLogger sets the structured logger the trail mirrors events to.
func WithLogger(l *slog.Logger) Option {
	return func(t *Trail) { t.logger = l }
}

// WithRepository forwards every appended event to a shared backing store.
func WithRepository(r domain.AuditRepository) Option {
	return func(t *Trail) { t.repo = r }
}

// WithNow overrides the trail's clock.
func WithNow(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// NewTrail creates an empty audit trail.
func NewTrail(opts ...Option) *Trail {
	t := &Trail{
		events: make([]domain.AuditEvent, 0, 256),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Append records one event. Missing IDs and timestamps are filled in. The
// in-memory record always succeeds; the returned error reports a configured
// repository rejecting the event, which callers may surface or ignore.
func (t *Trail) Append(ctx context.Context, event domain.AuditEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = t.now().UTC()
	}

	t.mu.Lock()
	t.events = append(t.events, event)
	if len(t.events) > maxEvents {
		t.events = append(t.events[:0], t.events[evictBatch:]...)
	}
	t.mu.Unlock()

	t.mirror(ctx, event)

	if t.repo != nil {
		if err := t.repo.CreateAuditEvent(ctx, &event); err != nil {
			t.logger.WarnContext(ctx, "audit repository write failed",
				"event_id", event.ID, "error", err)
			return err
		}
	}
	return nil
}

func (t *Trail) mirror(ctx context.Context, event domain.AuditEvent) {
	attrs := []any{
		"event_id", event.ID,
		"event_type", event.EventType,
		"identity", event.Identity,
		"source", event.SourceAddress,
		"details", event.Details,
	}
	switch event.Severity {
	case domain.SeverityEmergency, domain.SeverityCritical:
		t.logger.ErrorContext(ctx, "security event", attrs...)
	case domain.SeverityWarning:
		t.logger.WarnContext(ctx, "security event", attrs...)
	default:
		t.logger.InfoContext(ctx, "security event", attrs...)
	}
}

// Export returns a copy of the full trail, oldest first.
func (t *Trail) Export() []domain.AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.AuditEvent, len(t.events))
	copy(out, t.events)
	return out
}

// Recent returns up to n of the newest events, newest first.
func (t *Trail) Recent(n int) []domain.AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if n > len(t.events) {
		n = len(t.events)
	}
	out := make([]domain.AuditEvent, 0, n)
	for i := len(t.events) - 1; i >= len(t.events)-n; i-- {
		out = append(out, t.events[i])
	}
	return out
}

// Cleanup drops events older than the given age and reports how many remain.
func (t *Trail) Cleanup(olderThan time.Duration) int {
	cutoff := t.now().Add(-olderThan)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.events[:0]
	for _, e := range t.events {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	t.events = kept
	return len(t.events)
}

// Len returns the current number of retained events.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}
