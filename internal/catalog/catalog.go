// Package catalog loads the ordered list of calibration trials.
//
// A catalog is comma-separated text with a header row followed by one trial
// per row:
//
//	TrialID,Duration,Position
//	7,3.0,"(0.8 0.2)"
//
// Durations are decimal seconds and always use '.' as the separator.
package catalog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/gazecal/internal/domain"
)

// ErrNegativeStartIndex is returned when Load is asked to skip a negative number of rows.
var ErrNegativeStartIndex = errors.New("start index must be >= 0")

// ParseError describes a malformed catalog row.
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("catalog line %d: %s: %v", e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("catalog line %d: invalid %s %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var (
	errTooFewFields   = errors.New("expected at least 3 fields")
	errNotPositive    = errors.New("must be greater than zero")
	errNotFinite      = errors.New("must be a finite number")
	errTooLong        = errors.New("exceeds the longest representable duration")
	errTooShort       = errors.New("rounds to zero nanoseconds")
	errParentheses    = errors.New("expected parenthesized pair like (0.5 0.25)")
	errComponentCount = errors.New("expected exactly two components")
	errOutOfRange     = errors.New("components must lie in [0,1]")
)

// LoadFile opens path and loads its trials. See Load.
func LoadFile(path string, startIndex int) ([]domain.Trial, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	trials, err := Load(f, startIndex)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return trials, nil
}

// Load parses trials from r in row order. The header row is discarded and the
// first startIndex data rows are skipped without being parsed, so a session
// can resume where an earlier run stopped. Any malformed row among the
// remaining ones aborts loading with a *ParseError.
func Load(r io.Reader, startIndex int) ([]domain.Trial, error) {
	if startIndex < 0 {
		return nil, ErrNegativeStartIndex
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	reader.TrimLeadingSpace = true

	var trials []domain.Trial
	header := true
	row := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				return nil, &ParseError{Line: csvErr.Line, Field: "row", Err: csvErr.Err}
			}
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		if header {
			header = false
			continue
		}
		if row++; row <= startIndex {
			continue
		}

		line, _ := reader.FieldPos(0)
		trial, err := parseRow(record, line)
		if err != nil {
			return nil, err
		}
		trials = append(trials, trial)
	}

	return trials, nil
}

func parseRow(record []string, line int) (domain.Trial, error) {
	if len(record) < 3 {
		return domain.Trial{}, &ParseError{Line: line, Field: "row", Err: errTooFewFields}
	}

	idField := strings.TrimSpace(record[0])
	id, err := strconv.Atoi(idField)
	if err != nil {
		return domain.Trial{}, &ParseError{Line: line, Field: "id", Value: idField, Err: err}
	}

	durField := strings.TrimSpace(record[1])
	seconds, err := strconv.ParseFloat(durField, 64)
	if err != nil {
		return domain.Trial{}, &ParseError{Line: line, Field: "duration", Value: durField, Err: err}
	}
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return domain.Trial{}, &ParseError{Line: line, Field: "duration", Value: durField, Err: errNotFinite}
	}
	if seconds <= 0 {
		return domain.Trial{}, &ParseError{Line: line, Field: "duration", Value: durField, Err: errNotPositive}
	}
	nanos := math.Round(seconds * float64(time.Second))
	if nanos >= math.MaxInt64 {
		return domain.Trial{}, &ParseError{Line: line, Field: "duration", Value: durField, Err: errTooLong}
	}
	if nanos < 1 {
		return domain.Trial{}, &ParseError{Line: line, Field: "duration", Value: durField, Err: errTooShort}
	}

	posField := strings.TrimSpace(record[2])
	pos, err := ParsePosition(posField)
	if err != nil {
		return domain.Trial{}, &ParseError{Line: line, Field: "position", Value: posField, Err: err}
	}

	return domain.Trial{
		ID:       id,
		Duration: time.Duration(nanos),
		Target:   pos,
	}, nil
}

// ParsePosition parses a "(x y)" coordinate pair.
func ParsePosition(s string) (domain.Position, error) {
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return domain.Position{}, errParentheses
	}
	parts := strings.Fields(s[1 : len(s)-1])
	if len(parts) != 2 {
		return domain.Position{}, errComponentCount
	}

	var xy [2]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(part, 64)
		if err != nil {
			return domain.Position{}, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.Position{}, errNotFinite
		}
		xy[i] = v
	}

	pos := domain.Position{X: xy[0], Y: xy[1]}
	if !pos.InUnitSquare() {
		return domain.Position{}, errOutOfRange
	}
	return pos, nil
}

// FormatPosition encodes p as "(x y)". The space separator keeps the pair in
// a single comma-separated column.
func FormatPosition(p domain.Position) string {
	return "(" + strconv.FormatFloat(p.X, 'g', -1, 64) + " " + strconv.FormatFloat(p.Y, 'g', -1, 64) + ")"
}
