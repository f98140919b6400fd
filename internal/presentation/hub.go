package presentation

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/ashureev/gazecal/internal/domain"
)

// Message types sent to display clients.
const (
	TypeMarker       = "marker"
	TypeCountdown    = "countdown"
	TypeInstructions = "instructions"
	TypeStartControl = "start_control"
	TypeState        = "state"
)

// Command is the wire form of a scene command.
type Command struct {
	Type     string           `json:"type"`
	Position *domain.Position `json:"position,omitempty"`
	Visible  *bool            `json:"visible,omitempty"`
	State    any              `json:"state,omitempty"`
}

const clientQueueSize = 64

// Client is one connected display. Outbound messages are queued so a slow
// display never stalls the sequencer; when the queue is full the oldest
// message is dropped.
type Client struct {
	id  string
	out chan []byte
}

// ID returns the client identifier.
func (c *Client) ID() string { return c.id }

// Outbound returns the channel of encoded messages for this client.
func (c *Client) Outbound() <-chan []byte { return c.out }

// Hub is a Presenter that broadcasts commands to every registered display.
// It remembers the latest scene so a display that connects mid-session is
// brought up to date immediately.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	scene   map[string][]byte
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		scene:   make(map[string][]byte),
		logger:  logger,
	}
}

// Register adds a display and replays the current scene to it. A display
// registered under an existing id replaces the old one.
func (h *Hub) Register(id string) *Client {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.clients[id]; ok {
		close(existing.out)
	}

	c := &Client{id: id, out: make(chan []byte, clientQueueSize)}
	for _, typ := range []string{TypeMarker, TypeCountdown, TypeInstructions, TypeStartControl, TypeState} {
		if msg, ok := h.scene[typ]; ok {
			c.out <- msg
		}
	}
	h.clients[id] = c
	h.logger.Info("Display registered", "display_id", id, "displays", len(h.clients))
	return c
}

// Unregister removes a display if c is still the registered client for its id.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current, ok := h.clients[c.id]; ok && current == c {
		delete(h.clients, c.id)
		close(c.out)
		h.logger.Info("Display unregistered", "display_id", c.id, "displays", len(h.clients))
	}
}

// Len returns the number of connected displays.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) PlaceMarker(p domain.Position) {
	h.broadcast(Command{Type: TypeMarker, Position: &p})
}

func (h *Hub) PlaceCountdown(p domain.Position) {
	h.broadcast(Command{Type: TypeCountdown, Position: &p})
}

func (h *Hub) SetInstructionsVisible(visible bool) {
	h.broadcast(Command{Type: TypeInstructions, Visible: &visible})
}

func (h *Hub) SetStartControlVisible(visible bool) {
	h.broadcast(Command{Type: TypeStartControl, Visible: &visible})
}

// PublishState sends a state snapshot to every display.
func (h *Hub) PublishState(state any) {
	h.broadcast(Command{Type: TypeState, State: state})
}

func (h *Hub) broadcast(cmd Command) {
	msg, err := json.Marshal(cmd)
	if err != nil {
		h.logger.Error("Failed to encode display command", "type", cmd.Type, "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.scene[cmd.Type] = msg
	for _, c := range h.clients {
		h.enqueue(c, msg)
	}
}

func (h *Hub) enqueue(c *Client, msg []byte) {
	select {
	case c.out <- msg:
		return
	default:
	}

	// Queue full: drop the oldest message to make room.
	select {
	case <-c.out:
		h.logger.Warn("Display queue full, dropped oldest message", "display_id", c.id)
	default:
	}
	select {
	case c.out <- msg:
	default:
		h.logger.Warn("Failed to queue display message", "display_id", c.id)
	}
}
