package debounce

import "math"

// Bounds for the live sensitivity and delay controls.
const (
	MinLowThreshold = 0.15
	MaxLowThreshold = 0.35

	MinRequiredFrames = 5
	MaxRequiredFrames = 50

	DefaultLowThreshold   = 0.25
	DefaultRequiredFrames = 20
)

// Settings are the two tunables of a Machine.
type Settings struct {
	// LowThreshold is the openness below which a Full-confidence frame is low.
	LowThreshold float64 `json:"low_threshold" yaml:"low_threshold"`

	// RequiredFrames is the number of consecutive low frames that raise the alert.
	RequiredFrames int `json:"required_frames" yaml:"required_frames"`
}

// DefaultSettings returns threshold 0.25 and a 20-frame delay.
func DefaultSettings() Settings {
	return Settings{LowThreshold: DefaultLowThreshold, RequiredFrames: DefaultRequiredFrames}
}

// Clamp returns s with every field moved to its nearest valid bound.
// A NaN threshold falls back to the default.
func (s Settings) Clamp() Settings {
	switch {
	case math.IsNaN(s.LowThreshold):
		s.LowThreshold = DefaultLowThreshold
	case s.LowThreshold < MinLowThreshold:
		s.LowThreshold = MinLowThreshold
	case s.LowThreshold > MaxLowThreshold:
		s.LowThreshold = MaxLowThreshold
	}
	switch {
	case s.RequiredFrames < MinRequiredFrames:
		s.RequiredFrames = MinRequiredFrames
	case s.RequiredFrames > MaxRequiredFrames:
		s.RequiredFrames = MaxRequiredFrames
	}
	return s
}
