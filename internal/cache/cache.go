// Package cache is the local durable cache: a per-device key/value store used
// for session progress and as a fallback or mirror for the remote store.
// Absence of a key is always a valid state.
package cache

import (
	"errors"
	"strconv"
	"strings"
)

var (
	// ErrMiss is returned when a key holds no value
	ErrMiss = errors.New("cache miss")

	// ErrCorrupt is returned when a stored value cannot be decoded
	ErrCorrupt = errors.New("cache entry corrupt")
)

// Kinds of cached records
const (
	KindProgress       = "progress"
	KindAttemptCounter = "attempt_counter"
	KindResults        = "results"
	KindSummary        = "summary"
	KindScore          = "score"
	KindLocalSummary   = "local_summary"
	KindAttemptIndex   = "attempt_index"
)

// Key addresses one cached value. Its string form is "<kind>:<id>".
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string {
	return k.Kind + ":" + k.ID
}

// Cache stores JSON-serializable values by key
type Cache interface {
	Get(key Key, v any) error
	Put(key Key, v any) error
	Delete(key Key) error
}

// ProgressKey addresses a ProgressRecord: progress:<user>:<resource>
func ProgressKey(userID, resourceID string) Key {
	return Key{Kind: KindProgress, ID: join(userID, resourceID)}
}

// CounterKey addresses the local attempt counter: attempt_counter:<user>:<resource>
func CounterKey(userID, resourceID string) Key {
	return Key{Kind: KindAttemptCounter, ID: join(userID, resourceID)}
}

// ResultsKey addresses the in-progress result sets: results:<user>:<resource>
func ResultsKey(userID, resourceID string) Key {
	return Key{Kind: KindResults, ID: join(userID, resourceID)}
}

// SummaryKey addresses a summary mirror: summary:<attempt>
func SummaryKey(attemptID string) Key {
	return Key{Kind: KindSummary, ID: attemptID}
}

// ScoreKey addresses a score mirror: score:<attempt>
func ScoreKey(attemptID string) Key {
	return Key{Kind: KindScore, ID: attemptID}
}

// LocalSummaryKey addresses the summary of an attempt that only exists
// locally: local_summary:<user>:<resource>:<n>
func LocalSummaryKey(userID, resourceID string, attemptNumber int) Key {
	return Key{Kind: KindLocalSummary, ID: join(userID, resourceID, strconv.Itoa(attemptNumber))}
}

// AttemptIndexKey maps an attempt number to the id of its remote attempt:
// attempt_index:<user>:<resource>:<n>
func AttemptIndexKey(userID, resourceID string, attemptNumber int) Key {
	return Key{Kind: KindAttemptIndex, ID: join(userID, resourceID, strconv.Itoa(attemptNumber))}
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}

// IgnoreMiss turns ErrMiss into nil
func IgnoreMiss(err error) error {
	if errors.Is(err, ErrMiss) {
		return nil
	}
	return err
}
