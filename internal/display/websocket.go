// Package display serves the websocket endpoints used by the calibration
// display and the eye-tracker bridge.
package display

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/presentation"
)

const writeTimeout = 5 * time.Second

// StartFunc forwards the participant's start signal and reports whether a
// trial was started.
type StartFunc func() bool

// Sampler accepts gaze samples from the tracker bridge.
type Sampler interface {
	Push(samples ...domain.GazeSample)
}

// wsMessage is an inbound display message.
type wsMessage struct {
	Type string `json:"type"`
}

// Handler upgrades display and tracker connections.
type Handler struct {
	hub           *presentation.Hub
	start         StartFunc
	sampler       Sampler
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewHandler creates a new websocket Handler.
func NewHandler(hub *presentation.Hub, start StartFunc, sampler Sampler, allowedOrigin string, isDev bool, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:           hub,
		start:         start,
		sampler:       sampler,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

// ServeDisplay attaches a display client. Scene commands are streamed to the
// client; "start" messages forward the start signal and "ping" is answered
// with "pong".
func (h *Handler) ServeDisplay(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.accept(w, r)
	if !ok {
		return
	}
	id := ulid.Make().String()
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "display closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "client_id", id)
		}
	}()

	client := h.hub.Register(id)
	defer h.hub.Unregister(client)
	h.logger.Info("Display connected", "client_id", id, "ip", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer cancel()
		h.displayInputLoop(ctx, ws, id)
	}()

	go func() {
		defer wg.Done()
		defer cancel()
		h.displayOutputLoop(ctx, ws, client)
	}()

	wg.Wait()
	h.logger.Info("Display disconnected", "client_id", id)
}

func (h *Handler) displayInputLoop(ctx context.Context, ws *websocket.Conn, id string) {
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			h.logReadError(err, id)
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			h.logger.Debug("Ignoring malformed display message", "client_id", id, "error", err)
			continue
		}

		switch msg.Type {
		case "start":
			if h.start != nil && h.start() {
				h.logger.Debug("Start signal accepted", "client_id", id)
			}
		case "ping":
			if err := writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (h *Handler) displayOutputLoop(ctx context.Context, ws *websocket.Conn, client *presentation.Client) {
	for {
		select {
		case msg, ok := <-client.Outbound():
			if !ok {
				// Replaced by a newer registration.
				return
			}
			if err := write(ctx, ws, msg); err != nil {
				if ctx.Err() == nil {
					h.logger.Debug("Display write error", "client_id", client.ID(), "error", err)
				}
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// ServeTracker accepts gaze samples from the tracker bridge. Each message is
// one JSON sample or an array of samples.
func (h *Handler) ServeTracker(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.accept(w, r)
	if !ok {
		return
	}
	id := ulid.Make().String()
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "tracker closed"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "client_id", id)
		}
	}()
	h.logger.Info("Tracker connected", "client_id", id, "ip", r.RemoteAddr)

	ctx := r.Context()
	var received uint64
	for {
		_, message, err := ws.Read(ctx)
		if err != nil {
			h.logReadError(err, id)
			h.logger.Info("Tracker disconnected", "client_id", id, "samples", received)
			return
		}

		samples, err := DecodeSamples(message)
		if err != nil {
			h.logger.Warn("Dropping malformed tracker message", "client_id", id, "error", err)
			continue
		}
		h.sampler.Push(samples...)
		received += uint64(len(samples))
	}
}

// DecodeSamples parses a single sample object or an array of samples.
func DecodeSamples(data []byte) ([]domain.GazeSample, error) {
	if trimmed := bytes.TrimLeft(data, " \t\r\n"); len(trimmed) > 0 && trimmed[0] == '[' {
		var samples []domain.GazeSample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, err
		}
		return samples, nil
	}
	var sample domain.GazeSample
	if err := json.Unmarshal(data, &sample); err != nil {
		return nil, err
	}
	return []domain.GazeSample{sample}, nil
}

func (h *Handler) accept(w http.ResponseWriter, r *http.Request) (*websocket.Conn, bool) {
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return nil, false
	}
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "path", r.URL.Path)
		return nil, false
	}
	return ws, true
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) logReadError(err error, id string) {
	if websocket.CloseStatus(err) != -1 {
		h.logger.Debug("WebSocket closed by client", "client_id", id)
	} else {
		h.logger.Debug("WebSocket read error", "error", err, "client_id", id)
	}
}

func write(ctx context.Context, ws *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

func writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return write(ctx, ws, data)
}
