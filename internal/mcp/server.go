package mcp

import (
	"context"
	"fmt"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"
	"github.com/felixgeelhaar/studyloop/internal/aggregation"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/sequencer"
	"github.com/felixgeelhaar/studyloop/internal/session"
)

// Catalogue lists and loads resource definitions
type Catalogue interface {
	Load(id string) (*domain.ResourceDefinition, error)
	List() ([]string, error)
}

// Scores answers aggregate questions over finalized attempts
type Scores interface {
	TotalPoints(ctx context.Context, userID string) float64
	BestScorePerResource(ctx context.Context, userID string) map[string]float64
	GlobalRanking(ctx context.Context, limit int) []domain.RankingEntry
}

// Server wraps the MCP server with study tools
type Server struct {
	mcpServer *server.Server
	sessions  session.StudyService
	resources Catalogue
	scores    Scores
}

// Config contains configuration for the MCP server
type Config struct {
	Sessions  session.StudyService
	Resources Catalogue
	Scores    Scores
	Version   string
}

// NewServer creates a new MCP server exposing study sessions and scores
func NewServer(cfg Config) *Server {
	s := &Server{
		sessions:  cfg.Sessions,
		resources: cfg.Resources,
		scores:    cfg.Scores,
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	s.mcpServer = server.New(server.Info{
		Name:    "studyloop",
		Version: version,
	}, server.WithInstructions(`
Studyloop walks a learner through the segments of a study resource and
scores each attempt out of 20 points per scorable segment.

Available tools:
- study_resources: List available resources
- study_start: Start a new attempt on a resource
- study_stage: Show the current stage, resuming where the learner left off
- study_advance: Complete the current stage, optionally with its results
- study_exit: Leave early and score what was confirmed so far
- study_attempts: List attempts on a resource
- study_points: Total points of a learner
- study_ranking: Global ranking by total points
`))

	s.registerTools()

	return s
}

func (s *Server) registerTools() {
	s.mcpServer.Tool("study_resources").
		Description("List the study resources that can be attempted.").
		Handler(s.handleResources)

	s.mcpServer.Tool("study_start").
		Description("Start a new attempt on a resource. Progress from earlier attempts is discarded.").
		Handler(s.handleStart)

	s.mcpServer.Tool("study_stage").
		Description("Get the current stage of the active attempt on a resource. Use study_start first.").
		Handler(s.handleStage)

	s.mcpServer.Tool("study_advance").
		Description("Complete the current stage. Pass the segment results when leaving a scorable segment.").
		Handler(s.handleAdvance)

	s.mcpServer.Tool("study_exit").
		Description("Exit early. Only segments the learner continued past are scored.").
		Handler(s.handleExit)

	s.mcpServer.Tool("study_attempts").
		Description("List attempts on a resource with their final scores.").
		Handler(s.handleAttempts)

	s.mcpServer.Tool("study_points").
		Description("Get a learner's total points and best score per resource.").
		Handler(s.handlePoints)

	s.mcpServer.Tool("study_ranking").
		Description("Get the global ranking of learners by total points.").
		Handler(s.handleRanking)
}

// Input/Output types for tools

type ResourcesInput struct{}

type ResourcesOutput struct {
	Resources []string `json:"resources"`
}

type AttemptInput struct {
	UserID     string `json:"user_id" jsonschema:"description=Learner identifier"`
	ResourceID string `json:"resource_id" jsonschema:"description=Resource identifier as listed by study_resources"`
}

type AdvanceInput struct {
	UserID     string            `json:"user_id" jsonschema:"description=Learner identifier"`
	ResourceID string            `json:"resource_id" jsonschema:"description=Resource identifier"`
	Stage      string            `json:"stage,omitempty" jsonschema:"description=Stage being completed; rejected if it is no longer current"`
	Result     *domain.ResultSet `json:"result,omitempty" jsonschema:"description=Judged item results of the segment being completed"`
}

type StageOutput struct {
	Stage         string               `json:"stage"`
	Segment       string               `json:"segment,omitempty"`
	Label         string               `json:"label,omitempty"`
	Position      int                  `json:"position"`
	Total         int                  `json:"total"`
	Terminal      bool                 `json:"terminal"`
	AttemptNumber int                  `json:"attempt_number"`
	Summary       *domain.ScoreSummary `json:"summary,omitempty"`
	Message       string               `json:"message"`
}

type AttemptsOutput struct {
	Attempts []domain.Attempt `json:"attempts"`
}

type PointsInput struct {
	UserID string `json:"user_id" jsonschema:"description=Learner identifier"`
}

type PointsOutput struct {
	UserID      string             `json:"user_id"`
	TotalPoints float64            `json:"total_points"`
	Best        map[string]float64 `json:"best"`
}

type RankingInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"description=Number of entries (default: 10)"`
}

type RankingOutput struct {
	Ranking []domain.RankingEntry `json:"ranking"`
}

// Tool handlers

func (s *Server) handleResources(ctx context.Context, input ResourcesInput) (ResourcesOutput, error) {
	ids, err := s.resources.List()
	if err != nil {
		return ResourcesOutput{}, fmt.Errorf("failed to list resources: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ResourcesOutput{Resources: ids}, nil
}

func (s *Server) handleStart(ctx context.Context, input AttemptInput) (StageOutput, error) {
	if err := input.validate(); err != nil {
		return StageOutput{}, err
	}
	state, err := s.sessions.Start(ctx, input.UserID, input.ResourceID)
	if err != nil {
		return StageOutput{}, fmt.Errorf("failed to start attempt: %w", err)
	}
	return stageOutput(state), nil
}

func (s *Server) handleStage(ctx context.Context, input AttemptInput) (StageOutput, error) {
	if err := input.validate(); err != nil {
		return StageOutput{}, err
	}
	state, err := s.sessions.Resume(ctx, input.UserID, input.ResourceID)
	if err != nil {
		return StageOutput{}, fmt.Errorf("failed to read stage: %w", err)
	}
	return stageOutput(state), nil
}

func (s *Server) handleAdvance(ctx context.Context, input AdvanceInput) (StageOutput, error) {
	if input.UserID == "" || input.ResourceID == "" {
		return StageOutput{}, fmt.Errorf("%w: user_id and resource_id are required", domain.ErrInvalidInput)
	}
	state, err := s.sessions.Advance(ctx, input.UserID, input.ResourceID, sequencer.Completion{
		Stage:  domain.StageID(input.Stage),
		Result: input.Result,
	})
	if err != nil {
		return StageOutput{}, fmt.Errorf("failed to advance: %w", err)
	}
	return stageOutput(state), nil
}

func (s *Server) handleExit(ctx context.Context, input AttemptInput) (StageOutput, error) {
	if err := input.validate(); err != nil {
		return StageOutput{}, err
	}
	state, err := s.sessions.Exit(ctx, input.UserID, input.ResourceID)
	if err != nil {
		return StageOutput{}, fmt.Errorf("failed to exit: %w", err)
	}
	return stageOutput(state), nil
}

func (s *Server) handleAttempts(ctx context.Context, input AttemptInput) (AttemptsOutput, error) {
	if err := input.validate(); err != nil {
		return AttemptsOutput{}, err
	}
	attempts := s.sessions.Attempts(ctx, input.UserID, input.ResourceID)
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	return AttemptsOutput{Attempts: attempts}, nil
}

func (s *Server) handlePoints(ctx context.Context, input PointsInput) (PointsOutput, error) {
	if input.UserID == "" {
		return PointsOutput{}, fmt.Errorf("%w: user_id is required", domain.ErrInvalidInput)
	}
	return PointsOutput{
		UserID:      input.UserID,
		TotalPoints: s.scores.TotalPoints(ctx, input.UserID),
		Best:        s.scores.BestScorePerResource(ctx, input.UserID),
	}, nil
}

func (s *Server) handleRanking(ctx context.Context, input RankingInput) (RankingOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = aggregation.DefaultRankingLimit
	}
	ranking := s.scores.GlobalRanking(ctx, limit)
	if ranking == nil {
		ranking = []domain.RankingEntry{}
	}
	return RankingOutput{Ranking: ranking}, nil
}

func (in AttemptInput) validate() error {
	if in.UserID == "" || in.ResourceID == "" {
		return fmt.Errorf("%w: user_id and resource_id are required", domain.ErrInvalidInput)
	}
	return nil
}

func stageOutput(state *session.State) StageOutput {
	d := state.Directive
	out := StageOutput{
		Stage:         string(d.Stage),
		Segment:       string(d.Segment),
		Label:         d.Label,
		Position:      d.Position,
		Total:         d.Total,
		Terminal:      d.Terminal,
		AttemptNumber: state.AttemptNumber,
		Summary:       state.Summary,
	}
	switch {
	case d.Terminal && state.Summary != nil:
		out.Message = fmt.Sprintf("Attempt %d scored %.2f of %.0f points.", state.AttemptNumber, state.Summary.Total, state.Summary.MaxTotal)
	case d.Terminal:
		out.Message = "Attempt finished."
	case d.SubSummary:
		out.Message = fmt.Sprintf("Reviewing %s results (%d of %d).", d.Segment, d.Position, d.Total)
	default:
		out.Message = fmt.Sprintf("On %s (%d of %d).", d.Segment, d.Position, d.Total)
	}
	return out
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
