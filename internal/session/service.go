package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/cache"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/progress"
	"github.com/felixgeelhaar/studyloop/internal/scoring"
	"github.com/felixgeelhaar/studyloop/internal/sequencer"
)

var (
	ErrAttemptUnavailable = errors.New("no attempt could be started")
	ErrNoActiveAttempt    = errors.New("no active attempt")
)

// State is what the UI needs after every session operation
type State struct {
	ResourceID    string              `json:"resource_id"`
	Directive     sequencer.Directive `json:"directive"`
	AttemptID     string              `json:"attempt_id,omitempty"`
	AttemptNumber int                 `json:"attempt_number"`
	// Summary is set once the attempt reached the summary stage
	Summary *domain.ScoreSummary `json:"summary,omitempty"`
	// Persisted reports whether the final score reached the remote store
	Persisted bool `json:"persisted,omitempty"`
}

// Service runs learners through resource pipelines
type Service struct {
	defs      Definitions
	progress  progress.Store
	sequencer *sequencer.Sequencer
	ledger    Ledger
	cache     cache.Cache
	events    Publisher // Optional: attempt lifecycle events
	now       func() time.Time
}

// NewService creates a new session service. c holds in-flight results.
func NewService(defs Definitions, store progress.Store, l Ledger, c cache.Cache) *Service {
	return &Service{
		defs:      defs,
		progress:  store,
		sequencer: sequencer.New(store),
		ledger:    l,
		cache:     c,
		now:       time.Now,
	}
}

// SetPublisher sets the receiver of attempt lifecycle events
func (s *Service) SetPublisher(p Publisher) {
	s.events = p
}

// Start begins a new attempt. An attempt still in progress is finalized as
// an early exit first, then its progress and results are discarded.
func (s *Service) Start(ctx context.Context, userID, resourceID string) (*State, error) {
	def, err := s.defs.Load(resourceID)
	if err != nil {
		return nil, err
	}

	if rec, _ := s.progress.Get(ctx, userID, resourceID); rec != nil && rec.AttemptNumber > 0 && !rec.Stage.Terminal() {
		s.finalize(ctx, def, userID, rec, s.loadResults(userID, resourceID), true, &State{})
	}

	alloc := s.ledger.StartNew(ctx, resourceID, userID)
	if !alloc.Valid() {
		return nil, ErrAttemptUnavailable
	}

	if err := s.progress.Clear(ctx, userID, resourceID); err != nil {
		slog.Warn("failed to clear progress", "user_id", userID, "resource_id", resourceID, "error", err)
	}
	if err := cache.IgnoreMiss(s.cache.Delete(cache.ResultsKey(userID, resourceID))); err != nil {
		slog.Warn("failed to clear results", "user_id", userID, "resource_id", resourceID, "error", err)
	}
	if _, err := s.progress.Save(ctx, userID, resourceID, domain.ProgressPatch{
		AttemptID:     &alloc.ID,
		AttemptNumber: &alloc.AttemptNumber,
	}); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}

	directive, err := s.sequencer.Start(ctx, userID, def)
	if err != nil {
		return nil, err
	}

	s.publish(domain.NewAttemptStartedEvent(resourceID, userID, alloc.ID, alloc.AttemptNumber, alloc.Degraded))
	slog.Info("attempt started",
		"user_id", userID,
		"resource_id", resourceID,
		"attempt_number", alloc.AttemptNumber,
		"degraded", alloc.Degraded,
	)

	state := &State{
		ResourceID:    resourceID,
		Directive:     directive,
		AttemptID:     alloc.ID,
		AttemptNumber: alloc.AttemptNumber,
	}
	if directive.Terminal {
		// Nothing to present: score the empty attempt right away
		rec, _ := s.progress.Get(ctx, userID, resourceID)
		s.finalize(ctx, def, userID, rec, map[domain.SegmentID]domain.ResultSet{}, false, state)
	}
	return state, nil
}

// Resume returns the current stage. It never creates an attempt: without a
// readable progress record it returns ErrNoActiveAttempt.
func (s *Service) Resume(ctx context.Context, userID, resourceID string) (*State, error) {
	def, err := s.defs.Load(resourceID)
	if err != nil {
		return nil, err
	}

	rec, _ := s.progress.Get(ctx, userID, resourceID)
	if rec == nil || rec.AttemptNumber == 0 {
		return nil, ErrNoActiveAttempt
	}

	directive, err := s.sequencer.Current(ctx, userID, def)
	if err != nil {
		return nil, err
	}
	state := stateFor(resourceID, rec, directive)
	if directive.Terminal {
		state.Summary = s.storedSummary(userID, resourceID, rec)
	}
	return state, nil
}

// Advance confirms the current stage with its results and moves on. Reaching
// the summary stage finalizes the attempt.
func (s *Service) Advance(ctx context.Context, userID, resourceID string, c sequencer.Completion) (*State, error) {
	def, err := s.defs.Load(resourceID)
	if err != nil {
		return nil, err
	}

	rec, _ := s.progress.Get(ctx, userID, resourceID)
	if rec == nil || rec.AttemptNumber == 0 {
		return s.Start(ctx, userID, resourceID)
	}

	results := s.loadResults(userID, resourceID)
	if c.Result != nil {
		if seg, sub := rec.Stage.Segment(); !sub && def.Has(seg) {
			rs := *c.Result
			rs.Segment = seg
			results[seg] = rs
		}
	}

	directive, err := s.sequencer.Advance(ctx, userID, def, c)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(cache.ResultsKey(userID, resourceID), results); err != nil {
		slog.Warn("failed to store results", "user_id", userID, "resource_id", resourceID, "error", err)
	}

	rec, _ = s.progress.Get(ctx, userID, resourceID)
	state := stateFor(resourceID, rec, directive)
	if directive.Terminal {
		s.finalize(ctx, def, userID, rec, results, false, state)
	}
	return state, nil
}

// Exit finalizes the active attempt with whatever was confirmed so far
func (s *Service) Exit(ctx context.Context, userID, resourceID string) (*State, error) {
	def, err := s.defs.Load(resourceID)
	if err != nil {
		return nil, err
	}

	rec, _ := s.progress.Get(ctx, userID, resourceID)
	if rec == nil || rec.AttemptNumber == 0 {
		return nil, ErrNoActiveAttempt
	}
	if rec.Stage.Terminal() {
		state := stateFor(resourceID, rec, sequencer.DirectiveFor(def, domain.StageSummary))
		state.Summary = s.storedSummary(userID, resourceID, rec)
		return state, nil
	}

	terminal := domain.StageSummary
	rec, err = s.progress.Save(ctx, userID, resourceID, domain.ProgressPatch{Stage: &terminal})
	if err != nil {
		return nil, fmt.Errorf("save progress: %w", err)
	}

	state := stateFor(resourceID, rec, sequencer.DirectiveFor(def, terminal))
	s.finalize(ctx, def, userID, rec, s.loadResults(userID, resourceID), true, state)
	return state, nil
}

// Attempts lists the learner's attempts at a resource
func (s *Service) Attempts(ctx context.Context, userID, resourceID string) []domain.Attempt {
	return s.ledger.ListForResource(ctx, userID, resourceID)
}

// finalize scores the attempt and hands the result to the ledger. It never
// fails: persistence problems only show up as state.Persisted == false.
func (s *Service) finalize(ctx context.Context, def *domain.ResourceDefinition, userID string, rec *domain.ProgressRecord, results map[domain.SegmentID]domain.ResultSet, early bool, state *State) {
	summary := scoring.Compute(rec.Confirmations, def, results)
	summary.ComputedAt = s.now().UTC()

	persisted := false
	if rec.AttemptID != "" {
		persisted = s.ledger.FinalizeScore(ctx, rec.AttemptID, summary.Total, summary.Breakdown, summary)
		s.ledger.Complete(ctx, rec.AttemptID)
	} else {
		s.ledger.SnapshotLocal(ctx, userID, def.ID, rec.AttemptNumber, summary)
	}

	if err := cache.IgnoreMiss(s.cache.Delete(cache.ResultsKey(userID, def.ID))); err != nil {
		slog.Debug("failed to drop results", "error", err)
	}

	attempt := domain.Attempt{ID: rec.AttemptID, ResourceID: def.ID, UserID: userID, AttemptNumber: rec.AttemptNumber}
	s.publish(domain.NewAttemptFinalizedEvent(attempt, summary, early, persisted))
	slog.Info("attempt finalized",
		"user_id", userID,
		"resource_id", def.ID,
		"attempt_number", rec.AttemptNumber,
		"score", summary.Total,
		"early_exit", early,
		"persisted", persisted,
	)

	state.Summary = &summary
	state.Persisted = persisted
}

func (s *Service) loadResults(userID, resourceID string) map[domain.SegmentID]domain.ResultSet {
	results := map[domain.SegmentID]domain.ResultSet{}
	if err := s.cache.Get(cache.ResultsKey(userID, resourceID), &results); err != nil && !errors.Is(err, cache.ErrMiss) {
		slog.Warn("discarding unreadable results", "user_id", userID, "resource_id", resourceID, "error", err)
		results = map[domain.SegmentID]domain.ResultSet{}
	}
	return results
}

// storedSummary reads back the summary mirror of a finalized attempt
func (s *Service) storedSummary(userID, resourceID string, rec *domain.ProgressRecord) *domain.ScoreSummary {
	key := cache.LocalSummaryKey(userID, resourceID, rec.AttemptNumber)
	if rec.AttemptID != "" {
		key = cache.SummaryKey(rec.AttemptID)
	}
	var summary domain.ScoreSummary
	if err := s.cache.Get(key, &summary); err != nil {
		return nil
	}
	return &summary
}

func (s *Service) publish(event domain.Event) {
	if s.events != nil {
		s.events.Publish(event)
	}
}

func stateFor(resourceID string, rec *domain.ProgressRecord, d sequencer.Directive) *State {
	state := &State{ResourceID: resourceID, Directive: d}
	if rec != nil {
		state.AttemptID = rec.AttemptID
		state.AttemptNumber = rec.AttemptNumber
	}
	return state
}
