package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/session"
)

const (
	defaultListLimit = 20
	maxListLimit     = 200
)

// SessionHandler handles calibration session endpoints.
type SessionHandler struct {
	*Handler
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(base *Handler) *SessionHandler {
	return &SessionHandler{Handler: base}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/session", h.GetSession)
		r.Post("/session", h.BeginSession)
		r.Post("/session/start", h.Start)
		r.Post("/session/abort", h.Abort)
		r.Get("/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSessionHistory)
	})
}

// beginRequest is the body of POST /api/session. Every field is optional.
type beginRequest struct {
	Catalog    string `json:"catalog"`
	StartIndex *int   `json:"start_index"`
	Resume     bool   `json:"resume"`
}

// SnapshotView is the JSON form of a session snapshot. Durations are seconds.
type SnapshotView struct {
	SessionID        string           `json:"session_id,omitempty"`
	State            domain.State     `json:"state"`
	TrialIndex       int              `json:"trial_index"`
	CatalogIndex     int              `json:"catalog_index"`
	TotalTrials      int              `json:"total_trials"`
	TrialID          *int             `json:"trial_id,omitempty"`
	Duration         float64          `json:"duration,omitempty"`
	Target           *domain.Position `json:"target,omitempty"`
	ElapsedSeconds   float64          `json:"elapsed"`
	RemainingSeconds float64          `json:"remaining"`
	Frame            int              `json:"frame"`
	Buffered         int              `json:"buffered"`
	OutputPath       string           `json:"output_path,omitempty"`
	Error            string           `json:"error,omitempty"`
}

// NewSnapshotView converts a controller snapshot for the wire.
func NewSnapshotView(s session.Snapshot) SnapshotView {
	v := SnapshotView{
		SessionID:        s.SessionID,
		State:            s.State,
		TrialIndex:       s.TrialIndex,
		CatalogIndex:     s.CatalogIndex,
		TotalTrials:      s.TotalTrials,
		ElapsedSeconds:   s.Elapsed.Seconds(),
		RemainingSeconds: s.Remaining.Seconds(),
		Frame:            s.Frame,
		Buffered:         s.Buffered,
		OutputPath:       s.OutputPath,
		Error:            s.Error,
	}
	if s.Trial != nil {
		id, target := s.Trial.ID, s.Trial.Target
		v.TrialID = &id
		v.Target = &target
		v.Duration = s.Trial.Duration.Seconds()
	}
	return v
}

// GetSession returns the current session snapshot.
func (h *SessionHandler) GetSession(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, NewSnapshotView(h.ctrl.Snapshot()))
}

// BeginSession loads a catalog and readies its first trial.
func (h *SessionHandler) BeginSession(w http.ResponseWriter, r *http.Request) {
	var body beginRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := session.BeginRequest{CatalogPath: body.Catalog, Resume: body.Resume}
	if body.StartIndex != nil {
		req.StartIndex = *body.StartIndex
	}

	snap, err := h.ctrl.BeginSession(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusCreated, NewSnapshotView(snap))
}

// Start delivers the start signal. It is a no-op unless a trial is awaiting
// start.
func (h *SessionHandler) Start(w http.ResponseWriter, _ *http.Request) {
	snap, started := h.ctrl.StartSignal()
	JSON(w, http.StatusOK, map[string]interface{}{
		"started": started,
		"session": NewSnapshotView(snap),
	})
}

// Abort ends the active session after flushing the trial in progress.
func (h *SessionHandler) Abort(w http.ResponseWriter, _ *http.Request) {
	snap, err := h.ctrl.Abort()
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, NewSnapshotView(snap))
}

// ListSessions returns the most recent sessions, newest first.
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxListLimit)
	}

	sessions, err := h.repo.ListSessions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"sessions": sessions})
}

// GetSessionHistory returns one stored session and its flushed trials.
func (h *SessionHandler) GetSessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	sess, err := h.repo.GetSession(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if sess == nil {
		Error(w, http.StatusNotFound, "session not found")
		return
	}

	trials, err := h.repo.ListTrials(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if trials == nil {
		trials = []*domain.TrialResult{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session": sess,
		"trials":  trials,
	})
}
