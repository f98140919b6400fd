// Package api provides HTTP handlers for the calibration control surface.
package api

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/ashureev/gazecal/internal/catalog"
	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/sequencer"
	"github.com/ashureev/gazecal/internal/session"
	"github.com/ashureev/gazecal/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo store.Repository
	ctrl *session.Controller
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, ctrl *session.Controller) *Handler {
	return &Handler{
		repo: repo,
		ctrl: ctrl,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps a session error to an HTTP status code. Output failures
// and anything unrecognized are 500.
func StatusFor(err error) int {
	var parseErr *catalog.ParseError
	switch {
	case errors.As(err, &parseErr), errors.Is(err, domain.ErrEmptyCatalog):
		return http.StatusUnprocessableEntity
	case errors.Is(err, catalog.ErrNegativeStartIndex):
		return http.StatusBadRequest
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, sequencer.ErrNotIdle), errors.Is(err, session.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err with the status StatusFor assigns to it.
func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
	}
	Error(w, status, err.Error())
}
