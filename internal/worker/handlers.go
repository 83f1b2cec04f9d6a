package worker

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/devark/internal/db/sqlite"
	"github.com/thebtf/devark/internal/metrics"
	devsync "github.com/thebtf/devark/internal/sync"
	"github.com/thebtf/devark/internal/worker/session"
	"github.com/thebtf/devark/pkg/models"
)

// DefaultPromptPageSize is the page size of the prompts endpoint.
const DefaultPromptPageSize = 20

// ActiveSessionStats describes the active session in /api/stats.
type ActiveSessionStats struct {
	ID          string        `json:"id"`
	Platform    models.Source `json:"platform"`
	Goal        string        `json:"goal,omitempty"`
	Progress    int           `json:"progress"`
	PromptCount int           `json:"promptCount"`
}

// Stats is the /api/stats payload.
type Stats struct {
	LastScore     *float64             `json:"lastScore,omitempty"`
	ActiveSession *ActiveSessionStats  `json:"activeSession,omitempty"`
	Coaching      *models.CoachingData `json:"coaching,omitempty"`
	LastSync      *devsync.SyncResult  `json:"lastSync,omitempty"`
	Version       string               `json:"version"`
	Uptime        string               `json:"uptime"`
	Provider      string               `json:"provider"`
	HookDir       string               `json:"hookDir"`
	Metrics       metrics.Snapshot     `json:"metrics"`
	Processed     int                  `json:"processed"`
	Clients       int                  `json:"connectedClients"`
	Ready         bool                 `json:"ready"`
	Syncing       bool                 `json:"syncing"`
}

// PromptPage is one page of session prompts.
type PromptPage struct {
	Prompts []*models.Prompt `json:"prompts"`
	Total   int              `json:"total"`
	Offset  int              `json:"offset"`
	Limit   int              `json:"limit"`
}

// GoalRequest edits a session goal, its progress, or its name.
type GoalRequest struct {
	Goal     *string `json:"goal,omitempty"`
	Progress *int    `json:"progress,omitempty"`
	Name     *string `json:"name,omitempty"`
}

// SyncRequest starts a sync.
type SyncRequest struct {
	Since *time.Time `json:"since,omitempty"`
	Force bool       `json:"force"`
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)

	r.Get("/", serveIndex)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)
		r.Get("/projects", s.handleProjects)
		r.Get("/sessions/{id}/prompts", s.handlePrompts)
		r.Post("/sessions/{id}/goal", s.handleGoal)
		r.Get("/analysis/{promptId}", s.handleAnalysis)
		r.Get("/coaching/{promptId}", s.handleCoaching)
		r.Post("/coaching/dismiss", s.handleDismiss)
		r.Post("/sync", s.handleSync)
		r.Get("/events", s.sseBroadcaster.HandleSSE)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

// Stats reports the daemon's current state.
func (s *Service) Stats() Stats {
	snap := s.metrics.Snapshot()
	st := Stats{
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Provider:  s.providerLabel(),
		HookDir:   s.processor.Dir(),
		Processed: s.processor.Processed(),
		Metrics:   snap,
		LastScore: snap.LastScore,
		Coaching:  s.coaching.Latest(),
		LastSync:  s.lastSync.Load(),
		Clients:   s.sseBroadcaster.ClientCount(),
		Ready:     s.ready.Load(),
		Syncing:   s.syncing.Load(),
	}
	if sess := s.sessionManager.ActiveSession(); sess != nil {
		as := &ActiveSessionStats{
			ID:          sess.ID,
			Platform:    sess.Platform,
			Goal:        sess.Goal,
			PromptCount: sess.PromptCount,
		}
		if sess.GoalProgress != nil {
			as.Progress = *sess.GoalProgress
		}
		st.ActiveSession = as
	}
	return st
}

func (s *Service) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Service) handleProjects(w http.ResponseWriter, r *http.Request) {
	uiOnly := true
	if v := r.URL.Query().Get("ui"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			uiOnly = b
		}
	}
	projects, err := s.unified.Projects(r.Context(), uiOnly)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Service) handlePrompts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "active" {
		id = ""
	}
	q := session.PromptQuery{
		SessionID: id,
		Offset:    sqlite.ParseOffsetParam(r),
		Limit:     sqlite.ParseLimitParam(r, DefaultPromptPageSize),
	}
	prompts, total, err := s.sessionManager.GetPrompts(q)
	if errors.Is(err, session.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, PromptPage{Prompts: prompts, Total: total, Offset: q.Offset, Limit: q.Limit})
}

func (s *Service) handleGoal(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req GoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Goal == nil && req.Progress == nil && req.Name == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	if req.Progress != nil && (*req.Progress < 0 || *req.Progress > 100) {
		writeError(w, http.StatusBadRequest, "progress must be between 0 and 100")
		return
	}

	ctx := r.Context()
	var err error
	if req.Goal != nil {
		err = s.unified.SetGoal(ctx, id, *req.Goal)
	}
	if err == nil && req.Progress != nil {
		err = s.unified.UpdateGoalProgress(ctx, id, *req.Progress)
	}
	if err == nil && req.Name != nil {
		err = s.unified.RenameSession(ctx, id, *req.Name)
	}
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Service) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	a, err := s.analyses.Get(chi.URLParam(r, "promptId"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if a == nil {
		writeError(w, http.StatusNotFound, "analysis not found")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Service) handleCoaching(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "promptId")
	var (
		c   *models.CoachingData
		err error
	)
	if id == "latest" {
		c = s.coaching.Latest()
	} else {
		c, err = s.coaching.Coaching(id)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, "coaching not found")
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Service) handleDismiss(w http.ResponseWriter, _ *http.Request) {
	s.coaching.Dismiss()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	res, err := s.Sync(r.Context(), devsync.Options{Since: req.Since, Force: req.Force})
	switch {
	case errors.Is(err, ErrSyncInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}
