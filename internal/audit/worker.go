package audit

import (
	"context"
	"log/slog"
)

// Worker drains the publisher inbox into a sink. Sink failures are logged
// and the event dropped; the worker only stops on context cancellation.
type Worker struct {
	sink   Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(sink Sink, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{sink: sink, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.sink.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit append failed",
					"action", string(event.Action),
					"contact_id", event.ContactID,
					"error", err.Error(),
				)
			}
		}
	}
}
