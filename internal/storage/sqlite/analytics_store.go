package sqlite

import (
	"encoding/json"
	"fmt"
	"time"
)

// AnalyticsEvent is one recorded study event.
type AnalyticsEvent struct {
	ID         int64     `json:"id"`
	EventType  string    `json:"event_type"`
	AttemptID  string    `json:"attempt_id,omitempty"`
	UserID     string    `json:"user_id"`
	ResourceID string    `json:"resource_id"`
	Score      *float64  `json:"score,omitempty"`
	Data       string    `json:"data"`
	CreatedAt  time.Time `json:"created_at"`
}

// AnalyticsStore provides analytics event recording backed by SQLite.
type AnalyticsStore struct {
	db *DB
}

// NewAnalyticsStore creates a new SQLite-backed analytics store.
func NewAnalyticsStore(db *DB) *AnalyticsStore {
	return &AnalyticsStore{db: db}
}

// Record stores an analytics event. data is stored JSON-encoded.
func (s *AnalyticsStore) Record(e AnalyticsEvent, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal analytics data: %w", err)
	}

	var attemptID *string
	if e.AttemptID != "" {
		attemptID = &e.AttemptID
	}
	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = s.db.Exec(`
		INSERT INTO analytics_events (event_type, attempt_id, user_id, resource_id, score, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EventType, attemptID, e.UserID, e.ResourceID, e.Score, string(payload), createdAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert analytics event: %w", err)
	}
	return nil
}

// Query returns events of the given type, optionally filtered by user and time range.
func (s *AnalyticsStore) Query(eventType, userID string, since, until time.Time) ([]AnalyticsEvent, error) {
	query := `SELECT id, event_type, attempt_id, user_id, resource_id, score, data, created_at
		FROM analytics_events WHERE event_type = ?`
	args := []interface{}{eventType}

	if userID != "" {
		query += " AND user_id = ?"
		args = append(args, userID)
	}
	if !since.IsZero() {
		query += " AND created_at >= ?"
		args = append(args, since.UTC())
	}
	if !until.IsZero() {
		query += " AND created_at <= ?"
		args = append(args, until.UTC())
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analytics: %w", err)
	}
	defer rows.Close()

	var events []AnalyticsEvent
	for rows.Next() {
		var e AnalyticsEvent
		var attemptID *string
		if err := rows.Scan(&e.ID, &e.EventType, &attemptID, &e.UserID, &e.ResourceID, &e.Score, &e.Data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan analytics event: %w", err)
		}
		if attemptID != nil {
			e.AttemptID = *attemptID
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Count returns the number of events matching the given type.
func (s *AnalyticsStore) Count(eventType string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM analytics_events WHERE event_type = ?", eventType,
	).Scan(&count)
	return count, err
}

// Prune deletes analytics events older than the given duration.
func (s *AnalyticsStore) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC()
	result, err := s.db.Exec("DELETE FROM analytics_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune analytics: %w", err)
	}
	return result.RowsAffected()
}
