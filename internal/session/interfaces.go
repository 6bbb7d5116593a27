package session

import (
	"context"

	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/ledger"
	"github.com/felixgeelhaar/studyloop/internal/sequencer"
)

// StudyService defines the session operations used by the daemon handlers
// and the MCP tools
type StudyService interface {
	// Start allocates a new attempt and positions the learner on the first stage
	Start(ctx context.Context, userID, resourceID string) (*State, error)

	// Resume returns the current stage of the active attempt
	Resume(ctx context.Context, userID, resourceID string) (*State, error)

	// Advance records a completed stage and moves on
	Advance(ctx context.Context, userID, resourceID string, c sequencer.Completion) (*State, error)

	// Exit finalizes the active attempt early
	Exit(ctx context.Context, userID, resourceID string) (*State, error)

	// Attempts lists the learner's attempts at a resource
	Attempts(ctx context.Context, userID, resourceID string) []domain.Attempt
}

// Ensure Service implements StudyService
var _ StudyService = (*Service)(nil)

// Definitions resolves resource ids to definitions
type Definitions interface {
	Load(id string) (*domain.ResourceDefinition, error)
}

// Ledger is the attempt ledger as seen by a session
type Ledger interface {
	StartNew(ctx context.Context, resourceID, userID string) ledger.Allocation
	FinalizeScore(ctx context.Context, attemptID string, finalScore float64, breakdown []domain.BreakdownItem, summary domain.ScoreSummary) bool
	Complete(ctx context.Context, attemptID string)
	SnapshotLocal(ctx context.Context, userID, resourceID string, attemptNumber int, summary domain.ScoreSummary) bool
	ListForResource(ctx context.Context, userID, resourceID string) []domain.Attempt
}

// Ensure the ledger satisfies Ledger
var _ Ledger = (*ledger.Ledger)(nil)

// Publisher receives attempt lifecycle events
type Publisher interface {
	Publish(event domain.Event)
}
