// Package domain contains core domain types for the calibration recorder.
package domain

import (
	"errors"
	"time"
)

// ErrEmptyCatalog is returned when a session is started with zero trials.
var ErrEmptyCatalog = errors.New("catalog has no trials")

// Position is a normalized screen coordinate in [0,1]x[0,1].
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Offset returns p shifted by dx, dy.
func (p Position) Offset(dx, dy float64) Position {
	return Position{X: p.X + dx, Y: p.Y + dy}
}

// InUnitSquare reports whether both components lie in [0,1].
func (p Position) InUnitSquare() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Trial is one timed calibration unit. Trials are immutable once loaded.
type Trial struct {
	ID       int           `json:"id"`
	Duration time.Duration `json:"duration"`
	Target   Position      `json:"target"`
}
