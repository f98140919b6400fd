package tracker

import (
	"sync"
	"testing"

	"github.com/ashureev/gazecal/internal/domain"
)

func TestBufferDrainsOnRead(t *testing.T) {
	t.Parallel()

	b := NewBuffer(10, nil)
	b.Push(domain.GazeSample{Counter: 1}, domain.GazeSample{Counter: 2})

	got := b.CurrentSamples()
	if len(got) != 2 || got[0].Counter != 1 || got[1].Counter != 2 {
		t.Fatalf("unexpected samples: %+v", got)
	}
	if again := b.CurrentSamples(); len(again) != 0 {
		t.Fatalf("expected empty snapshot after drain, got %d", len(again))
	}
}

func TestBufferDropsOldestWhenFull(t *testing.T) {
	t.Parallel()

	b := NewBuffer(3, nil)
	for i := int64(1); i <= 5; i++ {
		b.Push(domain.GazeSample{Counter: i})
	}

	got := b.CurrentSamples()
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[0].Counter != 3 || got[2].Counter != 5 {
		t.Fatalf("expected counters 3..5, got %d..%d", got[0].Counter, got[2].Counter)
	}
	if dropped := b.Stats()["dropped"].(uint64); dropped != 2 {
		t.Fatalf("expected 2 dropped, got %d", dropped)
	}
}

func TestBufferConcurrentPushAndRead(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4096, nil)
	const producers, perProducer = 4, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				b.Push(domain.GazeSample{Counter: int64(i)})
			}
		}()
	}

	received := 0
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for {
		received += len(b.CurrentSamples())
		select {
		case <-done:
			received += len(b.CurrentSamples())
			if received != producers*perProducer {
				t.Fatalf("expected %d samples, got %d", producers*perProducer, received)
			}
			return
		default:
		}
	}
}

func TestStaticAdvancesCounter(t *testing.T) {
	t.Parallel()

	s := NewStatic(domain.GazeSample{Counter: 10})
	first := s.CurrentSamples()
	second := s.CurrentSamples()
	if first[0].Counter != 10 || second[0].Counter != 11 {
		t.Fatalf("unexpected counters: %d, %d", first[0].Counter, second[0].Counter)
	}
	if s.Calls() != 2 {
		t.Fatalf("expected 2 calls, got %d", s.Calls())
	}

	if got := NewStatic().CurrentSamples(); got != nil {
		t.Fatalf("expected nil from an empty source, got %+v", got)
	}
}

func TestBufferReusesRingAfterDrain(t *testing.T) {
	t.Parallel()

	b := NewBuffer(4, nil)
	b.Push(domain.GazeSample{Counter: 1}, domain.GazeSample{Counter: 2}, domain.GazeSample{Counter: 3})
	b.CurrentSamples()

	for i := int64(4); i <= 9; i++ {
		b.Push(domain.GazeSample{Counter: i})
	}
	if b.Len() != 4 {
		t.Fatalf("expected 4 pending, got %d", b.Len())
	}
	got := b.CurrentSamples()
	for i, s := range got {
		if s.Counter != int64(6+i) {
			t.Fatalf("sample %d: expected counter %d, got %d", i, 6+i, s.Counter)
		}
	}
	stats := b.Stats()
	if stats["received"].(uint64) != 9 || stats["dropped"].(uint64) != 2 || stats["pending"].(int) != 0 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}
