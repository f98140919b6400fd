// Package recorder buffers gaze captures per trial and appends them to the
// session's output file.
package recorder

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/ashureev/gazecal/internal/domain"
	"github.com/ashureev/gazecal/internal/tracker"
)

// DefaultFileName is the output file used when Options.FileName is empty.
const DefaultFileName = "gaze_data_segments.csv"

// IOError reports that the output file could not be created or appended to.
// The in-memory buffer is left untouched when it is returned.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("gaze output %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("recorder closed")

// Options configures a Sink.
type Options struct {
	Dir      string
	FileName string
	Logger   *slog.Logger
}

// Sink accumulates CapturedRecords for the active trial and flushes them to an
// append-only CSV file. The file is opened on first flush and held until
// Close. The header is written once per output file: only when the file is
// empty at open.
//
// Sink is not safe for concurrent use; the session controller serializes it.
type Sink struct {
	source tracker.Source
	path   string
	logger *slog.Logger

	buf    []domain.CapturedRecord
	frame  int
	target domain.Position

	file          *os.File
	out           io.Writer // s.file, or a wrapper in tests
	headerWritten bool
	closed        bool
	written       int
}

// New creates a Sink reading from source.
func New(source tracker.Source, opts Options) *Sink {
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sink{
		source: source,
		path:   filepath.Join(opts.Dir, opts.FileName),
		logger: opts.Logger,
	}
}

// Path returns the output file path.
func (s *Sink) Path() string {
	return s.path
}

// SetTarget sets the target position tagged onto subsequent captures.
func (s *Sink) SetTarget(p domain.Position) {
	s.target = p
}

// SetFrame sets the frame index tagged onto subsequent captures.
func (s *Sink) SetFrame(frame int) {
	s.frame = frame
}

// Reset clears the buffer.
func (s *Sink) Reset() {
	clear(s.buf)
	s.buf = s.buf[:0]
}

// Capture tags every sample currently available from the tracker with the
// trial context and buffers it in arrival order. It returns the number of
// records appended; zero means the tracker had nothing new.
func (s *Sink) Capture(trialID int) int {
	samples := s.source.CurrentSamples()
	for _, sample := range samples {
		s.buf = append(s.buf, domain.CapturedRecord{
			TrialID:    trialID,
			FrameIndex: s.frame,
			Target:     s.target,
			Sample:     sample,
		})
	}
	s.logger.Debug("Captured gaze samples",
		"trial_id", trialID,
		"frame", s.frame,
		"samples", len(samples),
	)
	return len(samples)
}

// Len returns the number of buffered records.
func (s *Sink) Len() int {
	return len(s.buf)
}

// Records returns a copy of the buffered records.
func (s *Sink) Records() []domain.CapturedRecord {
	out := make([]domain.CapturedRecord, len(s.buf))
	copy(out, s.buf)
	return out
}

// Written returns the number of rows appended over the Sink lifetime,
// excluding the header.
func (s *Sink) Written() int {
	return s.written
}

// Flush appends every buffered record to the output file in buffer order and
// syncs it to disk. The buffer is not cleared; callers pair Flush with Reset.
// A failed flush truncates the file back to where it started, so retrying
// never duplicates rows.
func (s *Sink) Flush(trialID int) (int, error) {
	if s.closed {
		return 0, ErrClosed
	}
	if err := s.open(); err != nil {
		return 0, err
	}

	info, err := s.file.Stat()
	if err != nil {
		return 0, &IOError{Op: "stat", Path: s.path, Err: err}
	}
	offset := info.Size()

	if err := s.write(); err != nil {
		if terr := s.file.Truncate(offset); terr != nil {
			s.logger.Error("Failed to roll back partial flush",
				"path", s.path,
				"offset", offset,
				"error", terr,
			)
		}
		return 0, err
	}

	s.headerWritten = true
	s.written += len(s.buf)
	s.logger.Info("Gaze data saved",
		"trial_id", trialID,
		"records", len(s.buf),
		"path", s.path,
	)
	return len(s.buf), nil
}

func (s *Sink) write() error {
	bw := bufio.NewWriter(s.out)
	w := csv.NewWriter(bw)
	if !s.headerWritten {
		if err := w.Write(Header); err != nil {
			return &IOError{Op: "write", Path: s.path, Err: err}
		}
	}
	for _, rec := range s.buf {
		if err := w.Write(EncodeRow(rec)); err != nil {
			return &IOError{Op: "write", Path: s.path, Err: err}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	if err := s.file.Sync(); err != nil {
		return &IOError{Op: "sync", Path: s.path, Err: err}
	}
	return nil
}

// open opens the output lazily. A file that already has content is taken to
// start with its header.
func (s *Sink) open() error {
	if s.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return &IOError{Op: "create directory", Path: filepath.Dir(s.path), Err: err}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return &IOError{Op: "open", Path: s.path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return &IOError{Op: "stat", Path: s.path, Err: err}
	}
	if info.Size() > 0 {
		s.headerWritten = true
	}
	s.file = f
	s.out = f
	return nil
}

// Close releases the output file. Buffered records that were never flushed
// stay in memory and are not written. Close is idempotent.
func (s *Sink) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.out = nil, nil
	if err != nil {
		return &IOError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}
