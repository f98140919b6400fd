// Package tracker provides the gaze sample sources the recorder reads from.
//
// The tracker itself runs on its own streaming loop. Sources only expose a
// point-in-time snapshot so a per-frame capture never blocks on tracker I/O.
package tracker

import (
	"log/slog"
	"sync"

	"github.com/ashureev/gazecal/internal/domain"
)

// Source returns the samples currently available from the tracker.
// Implementations must not block. An empty result is a valid observation.
type Source interface {
	CurrentSamples() []domain.GazeSample
}

const defaultBufferSize = 4096

// Buffer is a Source fed by an independent producer. Samples are kept in a
// fixed-size ring; each sample is handed out by CurrentSamples exactly once.
// When the producer outruns the reader the oldest samples are overwritten.
type Buffer struct {
	mu      sync.Mutex
	buf     []domain.GazeSample
	size    int
	head    int // write position
	tail    int // read position
	full    bool
	dropped uint64
	total   uint64
	logger  *slog.Logger
}

// NewBuffer creates a buffer holding at most size pending samples.
func NewBuffer(size int, logger *slog.Logger) *Buffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		buf:    make([]domain.GazeSample, size),
		size:   size,
		logger: logger,
	}
}

// Push appends samples in arrival order.
func (b *Buffer) Push(samples ...domain.GazeSample) {
	if len(samples) == 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	over := 0
	for _, s := range samples {
		if b.full {
			b.tail = (b.tail + 1) % b.size
			over++
		}
		b.buf[b.head] = s
		b.head = (b.head + 1) % b.size
		if b.head == b.tail {
			b.full = true
		}
	}
	b.total += uint64(len(samples))
	if over > 0 {
		b.dropped += uint64(over)
		b.logger.Warn("Tracker buffer full, dropping oldest samples",
			"dropped", over,
			"capacity", b.size,
		)
	}
}

// CurrentSamples drains and returns everything pushed since the last call.
func (b *Buffer) CurrentSamples() []domain.GazeSample {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.lenLocked()
	if n == 0 {
		return nil
	}
	out := make([]domain.GazeSample, n)
	if b.head > b.tail {
		copy(out, b.buf[b.tail:b.head])
	} else {
		// Wrap-around: tail -> end + start -> head
		k := copy(out, b.buf[b.tail:])
		copy(out[k:], b.buf[:b.head])
	}
	b.head, b.tail, b.full = 0, 0, false
	return out
}

// Len returns the number of pending samples.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	switch {
	case b.full:
		return b.size
	case b.head >= b.tail:
		return b.head - b.tail
	default:
		return b.size - b.tail + b.head
	}
}

// Stats returns buffer statistics.
func (b *Buffer) Stats() map[string]interface{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]interface{}{
		"pending":  b.lenLocked(),
		"capacity": b.size,
		"received": b.total,
		"dropped":  b.dropped,
	}
}

// Static returns the same samples on every call. It stands in for a tracker
// in dry runs and tests.
type Static struct {
	mu      sync.Mutex
	samples []domain.GazeSample
	calls   int
}

// NewStatic creates a Static source.
func NewStatic(samples ...domain.GazeSample) *Static {
	return &Static{samples: samples}
}

// CurrentSamples returns a copy of the configured samples, with Counter
// advanced per call so rows can be told apart.
func (s *Static) CurrentSamples() []domain.GazeSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.samples) == 0 {
		return nil
	}
	out := make([]domain.GazeSample, len(s.samples))
	copy(out, s.samples)
	for i := range out {
		out[i].Counter += int64(s.calls - 1)
	}
	return out
}

// Calls returns how many times CurrentSamples was called.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
