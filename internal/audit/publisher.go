// Package audit records cluster mutations (merges, new links) for an
// operator trail. Emission is fail-open: the resolution must never fail
// because its audit record could not be written.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Sink persists audit events. Implementations: MemorySink and KafkaSink.
type Sink interface {
	Append(ctx context.Context, event Event) error
}

// Publisher hands events to a buffered inbox drained by a Worker. When the
// inbox is full the event is dropped and logged rather than blocking the
// request path.
type Publisher struct {
	inbox  chan<- Event
	logger *slog.Logger
}

func NewPublisher(inbox chan<- Event, logger *slog.Logger) *Publisher {
	return &Publisher{inbox: inbox, logger: logger}
}

// Record enqueues an event, stamping the timestamp if unset.
func (p *Publisher) Record(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"action", string(event.Action),
			"contact_id", event.ContactID,
		)
	}
}

// MemorySink keeps events in memory; the default sink and the test double.
type MemorySink struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (s *MemorySink) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of everything appended so far.
func (s *MemorySink) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}
