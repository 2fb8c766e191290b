package audit

import (
	"context"

	"veribio/pkg/requestcontext"
)

// Publisher records events straight into a Store. It is the sink used in
// tests and single-process deployments; production wiring replaces it with
// the Kafka publisher or the channel-fed worker.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

// RecordEvent stamps and appends the event. Missing timestamps default to
// the request time so batch operations stay consistent.
func (p *Publisher) RecordEvent(ctx context.Context, event Event) error {
	stamp(ctx, &event)
	return p.store.Append(ctx, event)
}

// List returns all recorded events for an entity, oldest first.
func (p *Publisher) List(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return p.store.ListByEntity(ctx, entityType, entityID)
}

func stamp(ctx context.Context, event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = requestcontext.Now(ctx)
	}
	if event.RequestID == "" {
		event.RequestID = requestcontext.RequestID(ctx)
	}
}
