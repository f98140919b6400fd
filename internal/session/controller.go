// Package session owns the single active calibration session. It loads the
// catalog, wires the sequencer to the recorder and presentation, persists
// progress, and serializes every mutation so Tick and StartSignal never
// interleave.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/ashureev/gazecal/internal/catalog"
	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/presentation"
	"github.com/ashureev/gazecal/internal/recorder"
	"github.com/ashureev/gazecal/internal/sequencer"
	"github.com/ashureev/gazecal/internal/store"
	"github.com/ashureev/gazecal/internal/tracker"
)

var (
	// ErrNoSession is returned when an operation needs a session and none is active.
	ErrNoSession = errors.New("no active session")
	// ErrClosed is returned once the controller has been closed for shutdown.
	ErrClosed = errors.New("session controller closed")
)

const storeTimeout = 5 * time.Second

// Options configures a Controller.
type Options struct {
	CatalogPath     string
	OutputDir       string
	OutputFile      string
	CountdownOffset float64
}

// BeginRequest selects the catalog and where in it to start.
type BeginRequest struct {
	// CatalogPath overrides Options.CatalogPath when set.
	CatalogPath string
	StartIndex  int
	// Resume, when true, ignores StartIndex and continues after the last
	// flushed trial recorded for the catalog.
	Resume bool
}

// Snapshot is the controller's read-only view of the session.
type Snapshot struct {
	SessionID string `json:"session_id,omitempty"`
	sequencer.Snapshot
	OutputPath string `json:"output_path,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Controller runs one session at a time.
type Controller struct {
	opts      Options
	presenter presentation.Presenter
	source    tracker.Source
	repo      store.Repository
	logger    *slog.Logger

	mu      sync.Mutex
	id      string
	seq     *sequencer.Sequencer
	sink    *recorder.Sink
	halted  error
	closed  bool
	entropy *ulid.MonotonicEntropy

	subMu  sync.Mutex
	subs   map[int]chan Snapshot
	nextID int
}

// NewController creates a Controller. repo may be nil, in which case progress
// is not persisted and resume always starts at row 0.
func NewController(opts Options, presenter presentation.Presenter, source tracker.Source, repo store.Repository, logger *slog.Logger) *Controller {
	if presenter == nil {
		presenter = presentation.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		opts:      opts,
		presenter: presenter,
		source:    source,
		repo:      repo,
		logger:    logger,
		entropy:   ulid.Monotonic(rand.Reader, 0),
		subs:      make(map[int]chan Snapshot),
	}
}

// BeginSession loads the catalog and readies its first trial.
func (c *Controller) BeginSession(ctx context.Context, req BeginRequest) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.snapshotLocked(), ErrClosed
	}
	if c.active() {
		return c.snapshotLocked(), sequencer.ErrNotIdle
	}

	path := req.CatalogPath
	if path == "" {
		path = c.opts.CatalogPath
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}

	start := req.StartIndex
	if req.Resume && c.repo != nil {
		next, err := c.repo.NextStartIndex(ctx, path)
		if err != nil {
			return c.snapshotLocked(), fmt.Errorf("resolve resume index: %w", err)
		}
		start = next
	}

	trials, err := catalog.LoadFile(path, start)
	if err != nil {
		return c.snapshotLocked(), err
	}
	if len(trials) == 0 {
		return c.snapshotLocked(), fmt.Errorf("catalog %s from row %d: %w", path, start, domain.ErrEmptyCatalog)
	}

	id := ulid.MustNew(ulid.Timestamp(time.Now()), c.entropy).String()
	sink := recorder.New(c.source, recorder.Options{
		Dir:      c.opts.OutputDir,
		FileName: c.opts.OutputFile,
		Logger:   c.logger.With("session_id", id),
	})
	seq := sequencer.New(c.presenter, sink, sequencer.Options{
		CountdownOffset: c.opts.CountdownOffset,
		OnEvent:         c.onEvent,
		Logger:          c.logger.With("session_id", id),
	})

	now := time.Now()
	if c.repo != nil {
		if err := c.repo.CreateSession(ctx, &domain.Session{
			ID:          id,
			CatalogPath: path,
			OutputPath:  sink.Path(),
			StartIndex:  start,
			TotalTrials: len(trials),
			Status:      domain.SessionActive,
			CreatedAt:   now,
			UpdatedAt:   now,
		}); err != nil {
			return c.snapshotLocked(), fmt.Errorf("persist session: %w", err)
		}
	}

	if c.sink != nil {
		c.closeSinkLocked()
	}
	c.id, c.seq, c.sink, c.halted = id, seq, sink, nil

	c.logger.Info("Session started",
		"session_id", id,
		"catalog", path,
		"start_index", start,
		"trials", len(trials),
		"output", sink.Path(),
	)
	if err := seq.Begin(trials, start); err != nil {
		c.finishLocked(domain.SessionFailed)
		return c.snapshotLocked(), err
	}
	return c.snapshotLocked(), nil
}

// StartSignal starts the trial awaiting start. It reports whether a trial
// was started; at any other time it does nothing.
func (c *Controller) StartSignal() (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == nil || c.halted != nil {
		return c.snapshotLocked(), false
	}
	started := c.seq.StartSignal()
	return c.snapshotLocked(), started
}

// Tick advances the session clock. A flush failure halts the session: the
// error is returned once, and the captured records stay buffered until
// Abort retries the flush.
func (c *Controller) Tick(delta time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.seq == nil || c.halted != nil {
		return nil
	}
	if err := c.seq.Tick(delta); err != nil {
		c.halted = err
		c.logger.Error("Session halted", "session_id", c.id, "error", err)
		c.updateStatus(domain.SessionFailed)
		c.publish(c.snapshotLocked())
		return err
	}
	return nil
}

// Abort ends the active session, flushing any captures of the running trial
// before the output file is released.
func (c *Controller) Abort() (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active() {
		return c.snapshotLocked(), ErrNoSession
	}
	if _, err := c.seq.Abort(); err != nil {
		c.logger.Error("Failed to flush on abort", "session_id", c.id, "error", err)
		return c.snapshotLocked(), err
	}
	c.halted = nil
	return c.snapshotLocked(), nil
}

// Close aborts any active session and releases the output file. It is used
// on shutdown so buffered captures are not silently lost. Once closed, the
// controller refuses new sessions.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.active() {
		if _, err := c.seq.Abort(); err != nil {
			errs = append(errs, err)
			c.updateStatus(domain.SessionFailed)
		}
	}
	if c.sink != nil {
		if err := c.sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.subMu.Lock()
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()

	return errors.Join(errs...)
}

// Snapshot returns the current session view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Buffered returns a copy of the records captured for the current trial but
// not yet flushed. After a halting flush failure these are the records that
// would otherwise be lost.
func (c *Controller) Buffered() []domain.CapturedRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sink == nil {
		return nil
	}
	return c.sink.Records()
}

// Subscribe returns a channel receiving a snapshot on every transition, and
// a function that cancels the subscription. Slow subscribers miss snapshots
// rather than block the session.
func (c *Controller) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Snapshot, buffer)

	c.subMu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = ch
	c.subMu.Unlock()

	return ch, func() {
		c.subMu.Lock()
		defer c.subMu.Unlock()
		if existing, ok := c.subs[id]; ok {
			close(existing)
			delete(c.subs, id)
		}
	}
}

func (c *Controller) active() bool {
	if c.seq == nil {
		return false
	}
	st := c.seq.State()
	return st == domain.StateAwaitingStart || st == domain.StateRunning
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{SessionID: c.id}
	if c.seq != nil {
		snap.Snapshot = c.seq.Snapshot()
	}
	if c.sink != nil {
		snap.OutputPath = c.sink.Path()
	}
	if c.halted != nil {
		snap.Error = c.halted.Error()
	}
	return snap
}

// onEvent runs inside sequencer calls, so c.mu is already held.
func (c *Controller) onEvent(e sequencer.Event) {
	switch e.Type {
	case sequencer.EventTrialFlushed:
		if c.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
			err := c.repo.RecordTrial(ctx, &domain.TrialResult{
				SessionID:    c.id,
				CatalogIndex: e.Snapshot.CatalogIndex,
				TrialID:      e.Snapshot.Trial.ID,
				Records:      e.Records,
				FlushedAt:    time.Now(),
			})
			cancel()
			if err != nil {
				c.logger.Warn("Failed to record trial progress",
					"session_id", c.id,
					"trial_id", e.Snapshot.Trial.ID,
					"error", err,
				)
			}
		}
	case sequencer.EventSessionAborted:
		// A partial trial stays in the output but is not recorded as
		// completed, so resume repeats it.
		if e.Records > 0 {
			c.logger.Info("Partial trial saved on abort", "session_id", c.id, "records", e.Records)
		}
		c.finishLocked(domain.SessionAborted)
	case sequencer.EventSessionFinished:
		c.finishLocked(domain.SessionFinished)
	}

	snap := Snapshot{SessionID: c.id, Snapshot: e.Snapshot}
	if c.sink != nil {
		snap.OutputPath = c.sink.Path()
	}
	c.publish(snap)
}

func (c *Controller) finishLocked(status domain.SessionStatus) {
	c.updateStatus(status)
	c.closeSinkLocked()
	c.logger.Info("Session ended", "session_id", c.id, "status", status)
}

func (c *Controller) closeSinkLocked() {
	if err := c.sink.Close(); err != nil {
		c.logger.Error("Failed to close gaze output", "session_id", c.id, "error", err)
	}
}

func (c *Controller) updateStatus(status domain.SessionStatus) {
	if c.repo == nil || c.id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.repo.FinishSession(ctx, c.id, status, time.Now()); err != nil {
		c.logger.Warn("Failed to update session status", "session_id", c.id, "status", status, "error", err)
	}
}

func (c *Controller) publish(snap Snapshot) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, ch := range c.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
