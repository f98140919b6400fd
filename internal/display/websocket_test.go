package display

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/presentation"
	"github.com/ashureev/gazecal/internal/tracker"
)

func newTestServer(t *testing.T, hub *presentation.Hub, start StartFunc, buf *tracker.Buffer) *httptest.Server {
	t.Helper()
	h := NewHandler(hub, start, buf, "", true, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/display", h.ServeDisplay)
	mux.HandleFunc("/ws/tracker", h.ServeTracker)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, path string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readCommand(t *testing.T, conn *websocket.Conn) presentation.Command {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cmd presentation.Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return cmd
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDisplayReceivesSceneAndForwardsStart(t *testing.T) {
	t.Parallel()

	hub := presentation.NewHub(nil)
	hub.PlaceMarker(domain.Position{X: 0.3, Y: 0.7})

	var starts atomic.Int32
	srv := newTestServer(t, hub, func() bool { starts.Add(1); return true }, tracker.NewBuffer(8, nil))
	conn := dial(t, srv, "/ws/display")

	cmd := readCommand(t, conn)
	if cmd.Type != presentation.TypeMarker || cmd.Position == nil || *cmd.Position != (domain.Position{X: 0.3, Y: 0.7}) {
		t.Fatalf("expected replayed marker, got %+v", cmd)
	}

	hub.SetInstructionsVisible(true)
	cmd = readCommand(t, conn)
	if cmd.Type != presentation.TypeInstructions || cmd.Visible == nil || !*cmd.Visible {
		t.Fatalf("expected instructions command, got %+v", cmd)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"start"}`)); err != nil {
		t.Fatalf("write start: %v", err)
	}
	waitFor(t, func() bool { return starts.Load() == 1 })
}

func TestDisplayAnswersPing(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, presentation.NewHub(nil), nil, tracker.NewBuffer(8, nil))
	conn := dial(t, srv, "/ws/display")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if cmd := readCommand(t, conn); cmd.Type != "pong" {
		t.Fatalf("expected pong, got %+v", cmd)
	}
}

func TestTrackerPushesSamples(t *testing.T) {
	t.Parallel()

	buf := tracker.NewBuffer(16, nil)
	srv := newTestServer(t, presentation.NewHub(nil), nil, buf)
	conn := dial(t, srv, "/ws/tracker")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs := []string{
		`{"counter":1,"time":0.5}`,
		`not json`,
		` [{"counter":2},{"counter":3}]`,
	}
	for _, m := range msgs {
		if err := conn.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	waitFor(t, func() bool { return buf.Len() == 3 })
	samples := buf.CurrentSamples()
	for i, s := range samples {
		if s.Counter != int64(i+1) {
			t.Fatalf("sample %d: expected counter %d, got %d", i, i+1, s.Counter)
		}
	}
}

func TestDecodeSamples(t *testing.T) {
	t.Parallel()

	one, err := DecodeSamples([]byte(`{"counter":5}`))
	if err != nil || len(one) != 1 || one[0].Counter != 5 {
		t.Fatalf("single: %v %+v", err, one)
	}
	many, err := DecodeSamples([]byte("\n[{\"counter\":1},{\"counter\":2}]"))
	if err != nil || len(many) != 2 {
		t.Fatalf("array: %v %+v", err, many)
	}
	if _, err := DecodeSamples([]byte(`[1,2`)); err == nil {
		t.Fatal("expected error for truncated array")
	}
}
