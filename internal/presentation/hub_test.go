package presentation

import (
	"encoding/json"
	"strconv"
	"sync"
	"testing"

	"github.com/ashureev/gazecal/internal/domain"
)

func decode(t *testing.T, msg []byte) Command {
	t.Helper()
	var cmd Command
	if err := json.Unmarshal(msg, &cmd); err != nil {
		t.Fatalf("decode command: %v", err)
	}
	return cmd
}

func TestHubBroadcastsCommands(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := h.Register("display-1")

	h.PlaceMarker(domain.Position{X: 0.5, Y: 0.25})
	h.SetInstructionsVisible(true)

	first := decode(t, <-c.Outbound())
	if first.Type != TypeMarker || first.Position == nil || *first.Position != (domain.Position{X: 0.5, Y: 0.25}) {
		t.Fatalf("unexpected marker command: %+v", first)
	}
	second := decode(t, <-c.Outbound())
	if second.Type != TypeInstructions || second.Visible == nil || !*second.Visible {
		t.Fatalf("unexpected instructions command: %+v", second)
	}
}

func TestHubReplaysSceneToLateDisplay(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	h.PlaceMarker(domain.Position{X: 0.1, Y: 0.1})
	h.PlaceMarker(domain.Position{X: 0.9, Y: 0.9})
	h.PlaceCountdown(domain.Position{X: 0.9, Y: 0.85})

	c := h.Register("late")
	marker := decode(t, <-c.Outbound())
	if marker.Type != TypeMarker || marker.Position.X != 0.9 {
		t.Fatalf("expected latest marker, got %+v", marker)
	}
	countdown := decode(t, <-c.Outbound())
	if countdown.Type != TypeCountdown {
		t.Fatalf("expected countdown, got %+v", countdown)
	}
	select {
	case extra := <-c.Outbound():
		t.Fatalf("unexpected extra message: %s", extra)
	default:
	}
}

func TestHubDropsOldestWhenQueueFull(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	c := h.Register("slow")
	for i := 0; i < clientQueueSize+10; i++ {
		h.PlaceMarker(domain.Position{X: float64(i) / 100, Y: 0})
	}

	if got := len(c.Outbound()); got != clientQueueSize {
		t.Fatalf("expected full queue of %d, got %d", clientQueueSize, got)
	}
	first := decode(t, <-c.Outbound())
	if first.Position.X != 0.1 {
		t.Fatalf("expected oldest surviving marker at x=0.1, got %v", first.Position.X)
	}
}

func TestHubUnregisterStale(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	old := h.Register("tab")
	replacement := h.Register("tab")

	if _, ok := <-old.Outbound(); ok {
		t.Fatal("replaced client channel should be closed")
	}

	h.Unregister(old)
	if h.Len() != 1 {
		t.Fatalf("stale unregister removed the replacement")
	}
	h.Unregister(replacement)
	if h.Len() != 0 {
		t.Fatalf("expected no displays, got %d", h.Len())
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	t.Parallel()

	h := NewHub(nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			c := h.Register("d-" + strconv.Itoa(i%5))
			h.Unregister(c)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			h.SetStartControlVisible(i%2 == 0)
		}
	}()
	wg.Wait()
}
