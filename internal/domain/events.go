package domain

import (
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Event Interface and Base Event
// -----------------------------------------------------------------------------

// Event types
const (
	EventAttemptStarted   = "attempt.started"
	EventAttemptFinalized = "attempt.finalized"
)

// Event represents a domain event
type Event interface {
	// EventID returns the unique identifier for this event
	EventID() uuid.UUID
	// EventType returns the type name of this event
	EventType() string
	// OccurredAt returns when this event occurred
	OccurredAt() time.Time
	// AggregateID identifies the attempt that produced this event
	AggregateID() string
}

// BaseEvent provides common event fields
type BaseEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Aggregate string    `json:"aggregate_id"`
}

// NewBaseEvent creates a new BaseEvent
func NewBaseEvent(eventType, aggregateID string) BaseEvent {
	return BaseEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: time.Now(),
		Aggregate: aggregateID,
	}
}

func (e BaseEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseEvent) EventType() string     { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() string   { return e.Aggregate }

// AttemptKey identifies an attempt whether or not it has a remote id
func AttemptKey(userID, resourceID string, attemptNumber int) string {
	return userID + ":" + resourceID + ":" + strconv.Itoa(attemptNumber)
}

// -----------------------------------------------------------------------------
// Event Handler and Dispatcher
// -----------------------------------------------------------------------------

// EventHandler processes domain events
type EventHandler func(event Event)

// EventDispatcher manages event subscriptions and publishing
type EventDispatcher struct {
	mu          sync.RWMutex
	handlers    map[string][]EventHandler
	allHandlers []EventHandler // handlers for all events
}

// NewEventDispatcher creates a new event dispatcher
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		handlers: make(map[string][]EventHandler),
	}
}

// Subscribe registers a handler for a specific event type
func (d *EventDispatcher) Subscribe(eventType string, handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], handler)
}

// SubscribeAll registers a handler for all event types
func (d *EventDispatcher) SubscribeAll(handler EventHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.allHandlers = append(d.allHandlers, handler)
}

// Publish dispatches an event to all registered handlers
func (d *EventDispatcher) Publish(event Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if handlers, ok := d.handlers[event.EventType()]; ok {
		for _, h := range handlers {
			h(event)
		}
	}

	for _, h := range d.allHandlers {
		h(event)
	}
}

// -----------------------------------------------------------------------------
// Attempt Events
// -----------------------------------------------------------------------------

// AttemptStartedEvent is published when a learner starts or retries a resource
type AttemptStartedEvent struct {
	BaseEvent
	ResourceID    string `json:"resource_id"`
	UserID        string `json:"user_id"`
	AttemptID     string `json:"attempt_id,omitempty"`
	AttemptNumber int    `json:"attempt_number"`
	Degraded      bool   `json:"degraded,omitempty"`
}

// NewAttemptStartedEvent creates a new attempt started event
func NewAttemptStartedEvent(resourceID, userID, attemptID string, attemptNumber int, degraded bool) AttemptStartedEvent {
	return AttemptStartedEvent{
		BaseEvent:     NewBaseEvent(EventAttemptStarted, AttemptKey(userID, resourceID, attemptNumber)),
		ResourceID:    resourceID,
		UserID:        userID,
		AttemptID:     attemptID,
		AttemptNumber: attemptNumber,
		Degraded:      degraded,
	}
}

// AttemptFinalizedEvent is published once an attempt has been scored
type AttemptFinalizedEvent struct {
	BaseEvent
	ResourceID    string          `json:"resource_id"`
	UserID        string          `json:"user_id"`
	AttemptID     string          `json:"attempt_id,omitempty"`
	AttemptNumber int             `json:"attempt_number"`
	FinalScore    float64         `json:"final_score"`
	MaxScore      float64         `json:"max_score"`
	Breakdown     []BreakdownItem `json:"breakdown"`
	// EarlyExit is set when the learner left before the summary stage
	EarlyExit bool `json:"early_exit,omitempty"`
	// Persisted reports whether the score reached the remote store
	Persisted bool `json:"persisted"`
}

// NewAttemptFinalizedEvent creates a new attempt finalized event
func NewAttemptFinalizedEvent(a Attempt, summary ScoreSummary, earlyExit, persisted bool) AttemptFinalizedEvent {
	return AttemptFinalizedEvent{
		BaseEvent:     NewBaseEvent(EventAttemptFinalized, AttemptKey(a.UserID, a.ResourceID, a.AttemptNumber)),
		ResourceID:    a.ResourceID,
		UserID:        a.UserID,
		AttemptID:     a.ID,
		AttemptNumber: a.AttemptNumber,
		FinalScore:    summary.Total,
		MaxScore:      summary.MaxTotal,
		Breakdown:     summary.Breakdown,
		EarlyExit:     earlyExit,
		Persisted:     persisted,
	}
}
