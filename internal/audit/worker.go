package audit

import (
	"context"
	"log/slog"
)

// AsyncRecorder decouples event emission from persistence through a bounded
// channel. RecordEvent never blocks: when the inbox is full the event is
// dropped and counted in the log, which keeps the compliance sink off the
// request's critical path.
type AsyncRecorder struct {
	inbox  chan Event
	logger *slog.Logger
}

func NewAsyncRecorder(buffer int, logger *slog.Logger) *AsyncRecorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &AsyncRecorder{
		inbox:  make(chan Event, buffer),
		logger: logger,
	}
}

func (r *AsyncRecorder) RecordEvent(ctx context.Context, event Event) error {
	stamp(ctx, &event)
	select {
	case r.inbox <- event:
	default:
		if r.logger != nil {
			r.logger.WarnContext(ctx, "audit inbox full, dropping event",
				"action", event.Action,
				"entity_id", event.EntityID,
			)
		}
	}
	return nil
}

// Inbox exposes the receive side for a Worker.
func (r *AsyncRecorder) Inbox() <-chan Event { return r.inbox }

// Worker consumes audit events from a channel and persists them. It keeps
// background processing testable without wiring queue implementations.
type Worker struct {
	store  Store
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run drains the inbox until the context is canceled. Append failures are
// logged and skipped; the worker never stops over a single bad event.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				if w.logger != nil {
					w.logger.ErrorContext(ctx, "audit append failed",
						"action", event.Action,
						"entity_id", event.EntityID,
						"error", err,
					)
				}
			}
		}
	}
}
