package daemon

import (
	"context"
	"log/slog"

	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/queue"
	"github.com/felixgeelhaar/studyloop/internal/storage/sqlite"
)

// EventRecorder persists analytics events
type EventRecorder interface {
	Record(e sqlite.AnalyticsEvent, data any) error
}

// Projector writes attempt events into the local analytics table
type Projector struct {
	store EventRecorder
}

// NewProjector creates a projector over store
func NewProjector(store EventRecorder) *Projector {
	return &Projector{store: store}
}

// Handle records one event. It serves as the queue consumer handler.
func (p *Projector) Handle(ctx context.Context, event *queue.AttemptEvent) error {
	return p.store.Record(sqlite.AnalyticsEvent{
		EventType:  event.Type,
		AttemptID:  event.AttemptID,
		UserID:     event.UserID,
		ResourceID: event.ResourceID,
		Score:      event.FinalScore,
		CreatedAt:  event.OccurredAt,
	}, event)
}

// DomainHandler records events straight from the dispatcher, for setups
// without a message broker
func (p *Projector) DomainHandler() domain.EventHandler {
	return func(e domain.Event) {
		event, ok := queue.EventFromDomain(e)
		if !ok {
			return
		}
		if err := p.Handle(context.Background(), event); err != nil {
			slog.Warn("failed to record analytics event", "type", event.Type, "error", err)
		}
	}
}
