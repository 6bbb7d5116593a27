package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// publisher is the part of Connection the producer needs
type publisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes attempt events to the queue
type Producer struct {
	conn    publisher
	timeout time.Duration
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return newProducer(conn)
}

func newProducer(conn publisher) *Producer {
	return &Producer{conn: conn, timeout: 5 * time.Second}
}

// Publish publishes an attempt event
func (p *Producer) Publish(ctx context.Context, event *AttemptEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, EventQueueName, event); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.Type, err)
	}

	slog.Debug("published attempt event",
		"event_id", event.ID,
		"type", event.Type,
		"user_id", event.UserID,
		"resource_id", event.ResourceID,
		"attempt_number", event.AttemptNumber,
	)

	return nil
}

// PublishAttemptFinalized publishes the outcome of a finalized attempt
func (p *Producer) PublishAttemptFinalized(ctx context.Context, e domain.AttemptFinalizedEvent) error {
	event, _ := EventFromDomain(e)
	return p.Publish(ctx, event)
}

// Handler adapts the producer to the domain event dispatcher. Publishing is
// best effort: failures are logged and the session carries on.
func (p *Producer) Handler() domain.EventHandler {
	return func(e domain.Event) {
		event, ok := EventFromDomain(e)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.Publish(ctx, event); err != nil {
			slog.Warn("dropping attempt event", "type", event.Type, "error", err)
		}
	}
}
