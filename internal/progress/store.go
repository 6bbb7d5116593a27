// Package progress keeps the per-(user, resource) ProgressRecord in the local
// durable cache.
package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

// Store is the typed progress repository
type Store interface {
	// Get returns nil, nil when there is no usable record
	Get(ctx context.Context, userID, resourceID string) (*domain.ProgressRecord, error)
	Save(ctx context.Context, userID, resourceID string, patch domain.ProgressPatch) (*domain.ProgressRecord, error)
	Clear(ctx context.Context, userID, resourceID string) error
}

// CacheStore implements Store on an injected cache engine
type CacheStore struct {
	cache cache.Cache
	now   func() time.Time
}

// NewCacheStore creates a progress store backed by c
func NewCacheStore(c cache.Cache) *CacheStore {
	return &CacheStore{cache: c, now: time.Now}
}

func (s *CacheStore) Get(ctx context.Context, userID, resourceID string) (*domain.ProgressRecord, error) {
	var rec domain.ProgressRecord
	err := s.cache.Get(cache.ProgressKey(userID, resourceID), &rec)
	switch {
	case err == nil:
		if rec.Confirmations == nil {
			rec.Confirmations = map[domain.SegmentID]bool{}
		}
		return &rec, nil
	case errors.Is(err, cache.ErrMiss):
		return nil, nil
	default:
		// An unreadable record means the session starts over
		slog.Warn("progress record unreadable",
			"user_id", userID,
			"resource_id", resourceID,
			"error", err,
		)
		return nil, nil
	}
}

// Save merge-patches the stored record and returns the result
func (s *CacheStore) Save(ctx context.Context, userID, resourceID string, patch domain.ProgressPatch) (*domain.ProgressRecord, error) {
	current, _ := s.Get(ctx, userID, resourceID)
	next := patch.Apply(current, s.now().UTC())
	if err := s.cache.Put(cache.ProgressKey(userID, resourceID), next); err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}
	return next, nil
}

func (s *CacheStore) Clear(ctx context.Context, userID, resourceID string) error {
	if err := cache.IgnoreMiss(s.cache.Delete(cache.ProgressKey(userID, resourceID))); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

var _ Store = (*CacheStore)(nil)
