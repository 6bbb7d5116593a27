package daemon

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/studyloop/internal/aggregation"
	"github.com/felixgeelhaar/studyloop/internal/domain"
	"github.com/felixgeelhaar/studyloop/internal/sequencer"
	"github.com/felixgeelhaar/studyloop/internal/storage/sqlite"
)

// AdvanceRequest is the body of POST /v1/resources/{id}/advance
type AdvanceRequest struct {
	// Stage the learner completed; optional
	Stage  domain.StageID    `json:"stage,omitempty"`
	Result *domain.ResultSet `json:"result,omitempty"`
}

// ResourceResponse describes a resource and its pipeline
type ResourceResponse struct {
	ID       string             `json:"id"`
	Title    string             `json:"title,omitempty"`
	Pipeline []domain.SegmentID `json:"pipeline"`
	MaxScore float64            `json:"max_score"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.status != nil {
		for k, v := range s.status() {
			resp[k] = v
		}
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	ids, err := s.resources.List()
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to list resources", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"resources": ids})
}

func (s *Server) handleGetResource(w http.ResponseWriter, r *http.Request) {
	def, err := s.resources.Load(r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}

	pipeline := sequencer.Pipeline(def)
	if pipeline == nil {
		pipeline = []domain.SegmentID{}
	}
	s.jsonResponse(w, http.StatusOK, ResourceResponse{
		ID:       def.ID,
		Title:    def.Title,
		Pipeline: pipeline,
		MaxScore: domain.SegmentWeight * float64(len(def.Scorable())),
	})
}

func (s *Server) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Start(r.Context(), GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, state)
}

func (s *Server) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.resources.Load(id); err != nil {
		s.serviceError(w, err)
		return
	}
	attempts := s.sessions.Attempts(r.Context(), GetUserID(r.Context()), id)
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"attempts": attempts})
}

func (s *Server) handleGetStage(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Resume(r.Context(), GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req AdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	state, err := s.sessions.Advance(r.Context(), GetUserID(r.Context()), r.PathValue("id"), sequencer.Completion{
		Stage:  req.Stage,
		Result: req.Result,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

func (s *Server) handleExit(w http.ResponseWriter, r *http.Request) {
	state, err := s.sessions.Exit(r.Context(), GetUserID(r.Context()), r.PathValue("id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, state)
}

func (s *Server) handleTotalPoints(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"user_id":      userID,
		"total_points": s.scores.TotalPoints(r.Context(), userID),
	})
}

func (s *Server) handleBestScores(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"best":    s.scores.BestScorePerResource(r.Context(), userID),
	})
}

func (s *Server) handleRanking(w http.ResponseWriter, r *http.Request) {
	limit := aggregation.DefaultRankingLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.jsonError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	ranking := s.scores.GlobalRanking(r.Context(), limit)
	if ranking == nil {
		ranking = []domain.RankingEntry{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"ranking": ranking})
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		s.jsonError(w, http.StatusNotFound, "analytics disabled", nil)
		return
	}

	q := r.URL.Query()
	eventType := q.Get("type")
	if eventType == "" {
		eventType = domain.EventAttemptFinalized
	}
	var since time.Time
	if raw := q.Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.jsonError(w, http.StatusBadRequest, "since must be RFC3339", err)
			return
		}
		since = t
	}

	events, err := s.activity.Query(eventType, r.PathValue("id"), since, time.Time{})
	if err != nil {
		s.jsonError(w, http.StatusInternalServerError, "failed to read activity", err)
		return
	}
	if events == nil {
		events = []sqlite.AnalyticsEvent{}
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{"events": events})
}
