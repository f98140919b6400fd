// Package presentation carries commands from the trial sequencer to whatever
// renders the calibration scene. The core only issues commands; it never
// reads presentation state back.
package presentation

import "github.com/ashureev/gazecal/internal/domain"

// Presenter receives scene commands.
type Presenter interface {
	PlaceMarker(p domain.Position)
	PlaceCountdown(p domain.Position)
	SetInstructionsVisible(visible bool)
	SetStartControlVisible(visible bool)
}

// Nop discards every command.
type Nop struct{}

func (Nop) PlaceMarker(domain.Position)    {}
func (Nop) PlaceCountdown(domain.Position) {}
func (Nop) SetInstructionsVisible(bool)    {}
func (Nop) SetStartControlVisible(bool)    {}
