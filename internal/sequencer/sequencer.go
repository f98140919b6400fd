// Package sequencer drives calibration trials one at a time through the
// wait, run, and finish lifecycle.
//
// A Sequencer has no clock of its own. The caller advances it with Tick and
// gates each trial with StartSignal. Neither method blocks on tracker I/O;
// the only file I/O happens at trial boundaries when captures are flushed.
// Sequencer is not safe for concurrent use.
package sequencer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/presentation"
)

// DefaultCountdownOffset is how far below the marker the countdown sits.
const DefaultCountdownOffset = 0.05

// ErrNotIdle is returned by Begin while a session is in progress.
var ErrNotIdle = errors.New("a session is already in progress")

// Recorder is the capture sink the sequencer commands.
type Recorder interface {
	Reset()
	SetTarget(p domain.Position)
	SetFrame(frame int)
	Capture(trialID int) int
	Flush(trialID int) (int, error)
	Len() int
}

// EventType identifies a lifecycle event.
type EventType string

const (
	EventTrialReady      EventType = "trial_ready"
	EventTrialStarted    EventType = "trial_started"
	EventTrialFlushed    EventType = "trial_flushed"
	EventSessionFinished EventType = "session_finished"
	EventSessionAborted  EventType = "session_aborted"
)

// Event is delivered to the observer on every state transition.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	// Records is the number of rows written for EventTrialFlushed, or the
	// partial rows of the running trial for EventSessionAborted.
	Records int
}

// Snapshot is a read-only view of the sequencer.
type Snapshot struct {
	State        domain.State  `json:"state"`
	TrialIndex   int           `json:"trial_index"`
	CatalogIndex int           `json:"catalog_index"`
	TotalTrials  int           `json:"total_trials"`
	Trial        *domain.Trial `json:"trial,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
	Remaining    time.Duration `json:"remaining"`
	Frame        int           `json:"frame"`
	Buffered     int           `json:"buffered"`
}

// Options configures a Sequencer.
type Options struct {
	// CountdownOffset is subtracted from the marker's Y to place the countdown.
	CountdownOffset float64
	// OnEvent, if set, is called synchronously on every transition.
	OnEvent func(Event)
	Logger  *slog.Logger
}

// Sequencer is the trial state machine.
type Sequencer struct {
	presenter presentation.Presenter
	recorder  Recorder
	opts      Options
	logger    *slog.Logger

	trials     []domain.Trial
	startIndex int
	state      domain.State
	index      int
	elapsed    time.Duration
	frame      int
	err        error
}

// New creates an idle Sequencer.
func New(presenter presentation.Presenter, recorder Recorder, opts Options) *Sequencer {
	if presenter == nil {
		presenter = presentation.Nop{}
	}
	if opts.CountdownOffset == 0 {
		opts.CountdownOffset = DefaultCountdownOffset
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sequencer{
		presenter: presenter,
		recorder:  recorder,
		opts:      opts,
		logger:    opts.Logger,
	}
}

// Begin starts a session over trials and readies the first one. startIndex is
// the catalog row of trials[0] and is used only for numbering. On error no
// transition is taken.
func (s *Sequencer) Begin(trials []domain.Trial, startIndex int) error {
	if s.state == domain.StateAwaitingStart || s.state == domain.StateRunning {
		return ErrNotIdle
	}
	if len(trials) == 0 {
		return fmt.Errorf("begin session: %w", domain.ErrEmptyCatalog)
	}

	s.trials = append([]domain.Trial(nil), trials...)
	s.startIndex = startIndex
	s.index = 0
	s.frame = 0
	s.err = nil

	s.presenter.SetStartControlVisible(false)
	s.prepare()
	return nil
}

// prepare readies the trial at s.index and waits for the start signal.
func (s *Sequencer) prepare() {
	trial := s.trials[s.index]
	s.logger.Info("Starting trial",
		"trial_number", s.startIndex+s.index,
		"trial_id", trial.ID,
		"duration", trial.Duration,
	)

	s.recorder.Reset()
	s.recorder.SetTarget(trial.Target)
	s.presenter.PlaceMarker(trial.Target)
	s.presenter.PlaceCountdown(trial.Target.Offset(0, -s.opts.CountdownOffset))
	s.presenter.SetInstructionsVisible(true)

	s.elapsed = 0
	s.state = domain.StateAwaitingStart
	s.emit(Event{Type: EventTrialReady})
}

// StartSignal starts the ready trial. It reports whether a trial was started;
// outside AwaitingStart it does nothing.
func (s *Sequencer) StartSignal() bool {
	if s.state != domain.StateAwaitingStart {
		return false
	}

	s.presenter.SetInstructionsVisible(false)
	s.elapsed = 0
	s.state = domain.StateRunning
	s.logger.Info("Calibration started, tracking gaze",
		"trial_number", s.startIndex+s.index,
		"trial_id", s.trials[s.index].ID,
	)
	s.emit(Event{Type: EventTrialStarted})
	return true
}

// Tick advances time by delta. While the running trial has time left, each
// tick adds delta to the elapsed time and captures one round of samples. Once
// elapsed reaches the trial duration the trial's captures are flushed and the
// next trial is readied, or the session finishes.
//
// A flush failure is returned and halts the session: later ticks return the
// same error and the captured records stay buffered.
func (s *Sequencer) Tick(delta time.Duration) error {
	if s.err != nil {
		return s.err
	}
	if s.state == domain.StateIdle || s.state == domain.StateFinished {
		return nil
	}
	s.frame++
	if s.state != domain.StateRunning {
		return nil
	}
	if delta < 0 {
		delta = 0
	}

	trial := s.trials[s.index]
	if s.elapsed < trial.Duration {
		s.elapsed += delta
		s.recorder.SetFrame(s.frame)
		s.recorder.Capture(trial.ID)
	}
	if s.elapsed >= trial.Duration {
		return s.finishTrial()
	}
	return nil
}

func (s *Sequencer) finishTrial() error {
	trial := s.trials[s.index]
	n, err := s.recorder.Flush(trial.ID)
	if err != nil {
		s.err = fmt.Errorf("flush trial %d: %w", trial.ID, err)
		s.logger.Error("Failed to save gaze data",
			"trial_id", trial.ID,
			"buffered", s.recorder.Len(),
			"error", err,
		)
		return s.err
	}
	s.emit(Event{Type: EventTrialFlushed, Records: n})
	s.recorder.Reset()
	s.logger.Info("Finished calibration", "trial_number", s.startIndex+s.index, "trial_id", trial.ID)

	s.index++
	if s.index < len(s.trials) {
		s.prepare()
		return nil
	}

	s.state = domain.StateFinished
	s.elapsed = 0
	s.presenter.SetStartControlVisible(true)
	s.logger.Info("All trials finished", "trials", len(s.trials))
	s.emit(Event{Type: EventSessionFinished})
	return nil
}

// Abort ends the session early. Captures of a running trial are flushed
// first so they are not lost; if that flush fails the error is returned, the
// records stay buffered, and the session stays where it was. After a halting
// flush failure the trial had already run to completion, so a successful
// retry here reports it as flushed; otherwise the aborted event carries the
// number of partial records.
func (s *Sequencer) Abort() (int, error) {
	if s.state != domain.StateAwaitingStart && s.state != domain.StateRunning {
		return 0, nil
	}

	n := 0
	partial := 0
	if s.state == domain.StateRunning && s.recorder.Len() > 0 {
		trial := s.trials[s.index]
		var err error
		n, err = s.recorder.Flush(trial.ID)
		if err != nil {
			return 0, fmt.Errorf("flush trial %d on abort: %w", trial.ID, err)
		}
		if s.err != nil {
			// Halted at the end of the trial: the retry completes it.
			s.emit(Event{Type: EventTrialFlushed, Records: n})
		} else {
			partial = n
		}
	}
	s.recorder.Reset()

	s.logger.Info("Session aborted",
		"trial_number", s.startIndex+s.index,
		"records", n,
	)
	s.state = domain.StateIdle
	s.err = nil
	s.presenter.SetInstructionsVisible(false)
	s.presenter.SetStartControlVisible(true)
	s.emit(Event{Type: EventSessionAborted, Records: partial})
	return n, nil
}

func (s *Sequencer) emit(e Event) {
	if s.opts.OnEvent == nil {
		return
	}
	e.Snapshot = s.Snapshot()
	s.opts.OnEvent(e)
}

// State returns the current state.
func (s *Sequencer) State() domain.State { return s.state }

// Err returns the error that halted the session, if any.
func (s *Sequencer) Err() error { return s.err }

// Frame returns the number of ticks since the session began.
func (s *Sequencer) Frame() int { return s.frame }

// Elapsed returns the time since the current trial started.
func (s *Sequencer) Elapsed() time.Duration { return s.elapsed }

// CurrentTrial returns the current trial, if a session is in progress.
func (s *Sequencer) CurrentTrial() (domain.Trial, bool) {
	if s.state != domain.StateAwaitingStart && s.state != domain.StateRunning {
		return domain.Trial{}, false
	}
	return s.trials[s.index], true
}

// Snapshot returns a read-only view of the sequencer.
func (s *Sequencer) Snapshot() Snapshot {
	snap := Snapshot{
		State:        s.state,
		TrialIndex:   s.index,
		CatalogIndex: s.startIndex + s.index,
		TotalTrials:  len(s.trials),
		Elapsed:      s.elapsed,
		Frame:        s.frame,
	}
	if s.recorder != nil {
		snap.Buffered = s.recorder.Len()
	}
	if trial, ok := s.CurrentTrial(); ok {
		snap.Trial = &trial
		if remaining := trial.Duration - s.elapsed; remaining > 0 {
			snap.Remaining = remaining
		}
	}
	return snap
}
