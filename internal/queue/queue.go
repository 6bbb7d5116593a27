package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// Queue names
const (
	EventQueueName      = "studyloop.attempt_events"
	DeadLetterQueueName = "studyloop.attempt_events.dead"
)

// AttemptEvent is the wire form of an attempt lifecycle event
type AttemptEvent struct {
	ID            uuid.UUID              `json:"id"`
	Type          string                 `json:"type"`
	ResourceID    string                 `json:"resource_id"`
	UserID        string                 `json:"user_id"`
	AttemptID     string                 `json:"attempt_id,omitempty"`
	AttemptNumber int                    `json:"attempt_number"`
	Degraded      bool                   `json:"degraded,omitempty"`
	FinalScore    *float64               `json:"final_score,omitempty"`
	MaxScore      float64                `json:"max_score,omitempty"`
	Breakdown     []domain.BreakdownItem `json:"breakdown,omitempty"`
	EarlyExit     bool                   `json:"early_exit,omitempty"`
	Persisted     bool                   `json:"persisted,omitempty"`
	OccurredAt    time.Time              `json:"occurred_at"`
}

// EventFromDomain converts a domain event into its wire form. Unknown event
// types are reported with ok == false.
func EventFromDomain(e domain.Event) (*AttemptEvent, bool) {
	out := &AttemptEvent{ID: e.EventID(), Type: e.EventType(), OccurredAt: e.OccurredAt()}
	switch ev := e.(type) {
	case domain.AttemptStartedEvent:
		out.ResourceID = ev.ResourceID
		out.UserID = ev.UserID
		out.AttemptID = ev.AttemptID
		out.AttemptNumber = ev.AttemptNumber
		out.Degraded = ev.Degraded
	case domain.AttemptFinalizedEvent:
		score := ev.FinalScore
		out.ResourceID = ev.ResourceID
		out.UserID = ev.UserID
		out.AttemptID = ev.AttemptID
		out.AttemptNumber = ev.AttemptNumber
		out.FinalScore = &score
		out.MaxScore = ev.MaxScore
		out.Breakdown = ev.Breakdown
		out.EarlyExit = ev.EarlyExit
		out.Persisted = ev.Persisted
	default:
		return nil, false
	}
	return out, true
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{
		url: url,
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect()

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the event queue and its dead letter queue
func (c *Connection) declareQueues() error {
	_, err := c.channel.QueueDeclare(
		DeadLetterQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}

	// Rejected events are routed to the dead letter queue through the
	// default exchange
	_, err = c.channel.QueueDeclare(
		EventQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl":             int32(24 * time.Hour / time.Millisecond),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": DeadLetterQueueName,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare event queue: %w", err)
	}

	return nil
}

// handleReconnect listens for connection close and attempts to reconnect
func (c *Connection) handleReconnect() {
	notifyClose := c.conn.NotifyClose(make(chan *amqp.Error, 1))

	err := <-notifyClose
	if err == nil {
		return // Normal close
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	slog.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	for i := 0; i < 10; i++ {
		c.reconnects++
		time.Sleep(reconnectBackoff(i))

		if err := c.connect(); err != nil {
			slog.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		slog.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	slog.Error("failed to reconnect to RabbitMQ after 10 attempts")
}

// reconnectBackoff doubles from one second, capped at 30 seconds
func reconnectBackoff(attempt int) time.Duration {
	backoff := time.Duration(1<<attempt) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// sanitizeURL hides the password of an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 20 {
			return raw[:20] + "..."
		}
		return raw
	}
	return u.Redacted()
}
