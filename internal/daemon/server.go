package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/config"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/session"
	"github.com/felixgeelhaar/studyloop/internal/storage/sqlite"
)

// Catalogue resolves and lists resource definitions
type Catalogue interface {
	Load(id string) (*domain.ResourceDefinition, error)
	List() ([]string, error)
}

// Scores answers aggregate score queries
type Scores interface {
	TotalPoints(ctx context.Context, userID string) float64
	BestScorePerResource(ctx context.Context, userID string) map[string]float64
	GlobalRanking(ctx context.Context, limit int) []domain.RankingEntry
}

// ActivityLog reads the local analytics projection
type ActivityLog interface {
	Query(eventType, userID string, since, until time.Time) ([]sqlite.AnalyticsEvent, error)
}

// Services are the dependencies the HTTP handlers call into
type Services struct {
	Sessions  session.StudyService
	Resources Catalogue
	Scores    Scores
	Activity  ActivityLog // Optional: nil when analytics are disabled
}

// Server represents the studyloop daemon HTTP server
type Server struct {
	cfg    *config.LocalConfig
	server *http.Server
	router *http.ServeMux

	sessions  session.StudyService
	resources Catalogue
	scores    Scores
	activity  ActivityLog
	limiter   *attemptLimiter

	// status reports optional integrations for /v1/health
	status  func() map[string]any
	closers []func() error
}

// New creates a server over already wired services
func New(cfg *config.LocalConfig, svc Services) *Server {
	s := &Server{
		cfg:       cfg,
		router:    http.NewServeMux(),
		sessions:  svc.Sessions,
		resources: svc.Resources,
		scores:    svc.Scores,
		activity:  svc.Activity,
		limiter:   newAttemptLimiter(cfg.Daemon.RequestsPerMinute),
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", cfg.Daemon.Bind, cfg.Daemon.Port)
	handler := recoveryMiddleware(correlationIDMiddleware(userMiddleware(loggingMiddleware(s.router))))
	s.server = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("GET /v1/health", s.handleHealth)

	// Resources
	s.router.HandleFunc("GET /v1/resources", s.handleListResources)
	s.router.HandleFunc("GET /v1/resources/{id}", s.handleGetResource)

	// Attempts and stages
	s.router.HandleFunc("POST /v1/resources/{id}/attempts", s.requireUser(s.limiter.wrap(s.handleStartAttempt)))
	s.router.HandleFunc("GET /v1/resources/{id}/attempts", s.requireUser(s.handleListAttempts))
	s.router.HandleFunc("GET /v1/resources/{id}/stage", s.requireUser(s.handleGetStage))
	s.router.HandleFunc("POST /v1/resources/{id}/advance", s.requireUser(s.limiter.wrap(s.handleAdvance)))
	s.router.HandleFunc("POST /v1/resources/{id}/exit", s.requireUser(s.limiter.wrap(s.handleExit)))

	// Aggregates
	s.router.HandleFunc("GET /v1/users/{id}/points", s.handleTotalPoints)
	s.router.HandleFunc("GET /v1/users/{id}/best", s.handleBestScores)
	s.router.HandleFunc("GET /v1/users/{id}/activity", s.handleActivity)
	s.router.HandleFunc("GET /v1/ranking", s.handleRanking)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	slog.Info("starting studyloop daemon", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown stops the HTTP server, then releases wired resources in reverse order
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("shutting down daemon...")

	err := s.server.Shutdown(ctx)
	if lerr := s.limiter.Close(); lerr != nil {
		slog.Warn("failed to stop rate limiter", "error", lerr)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cerr := s.closers[i](); cerr != nil {
			slog.Warn("failed to release resource", "error", cerr)
		}
	}
	return err
}

// Services returns the wired services, for transports other than HTTP
func (s *Server) Services() Services {
	return Services{
		Sessions:  s.sessions,
		Resources: s.resources,
		Scores:    s.scores,
		Activity:  s.activity,
	}
}

// requireUser rejects requests without a user identity
func (s *Server) requireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			s.jsonError(w, http.StatusUnauthorized, UserIDHeader+" header required", nil)
			return
		}
		next(w, r)
	}
}

// Helper methods

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	response := map[string]any{
		"error":  message,
		"status": status,
	}
	if err != nil {
		response["details"] = err.Error()
	}
	s.jsonResponse(w, status, response)
}

// serviceError maps session and domain errors onto HTTP statuses
func (s *Server) serviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrResourceNotFound):
		s.jsonError(w, http.StatusNotFound, "resource not found", err)
	case errors.Is(err, domain.ErrInvalidInput):
		s.jsonError(w, http.StatusBadRequest, "invalid input", err)
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrStageTerminal):
		s.jsonError(w, http.StatusConflict, "stage conflict", err)
	case errors.Is(err, session.ErrNoActiveAttempt):
		s.jsonError(w, http.StatusConflict, "no active attempt", err)
	case errors.Is(err, session.ErrAttemptUnavailable):
		s.jsonError(w, http.StatusServiceUnavailable, "unable to start an attempt", err)
	default:
		s.jsonError(w, http.StatusInternalServerError, "internal error", err)
	}
}
