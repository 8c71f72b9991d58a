package ocular

import (
	"fmt"
	"math"
	"strings"
)

// Openness bounds shared by every classifier.
const (
	MinOpenness = 0.0
	MaxOpenness = 1.0

	// PartialOpenness is reported for frames where only one eye was located.
	PartialOpenness = 0.5
)

// Confidence reports how much of the ocular region was located in a frame.
type Confidence uint8

const (
	ConfidenceNone    Confidence = iota // no face or no eye located
	ConfidencePartial                   // exactly one eye located
	ConfidenceFull                      // both eyes located
)

// String returns the lowercase name used in JSON and logs.
func (c Confidence) String() string {
	switch c {
	case ConfidencePartial:
		return "partial"
	case ConfidenceFull:
		return "full"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Confidence) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Confidence) UnmarshalText(b []byte) error {
	v, err := ParseConfidence(string(b))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// ParseConfidence parses "none", "partial" or "full" (case-insensitive).
func ParseConfidence(s string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "":
		return ConfidenceNone, nil
	case "partial":
		return ConfidencePartial, nil
	case "full":
		return ConfidenceFull, nil
	default:
		return ConfidenceNone, fmt.Errorf("ocular: unknown confidence %q", s)
	}
}

// Sample is the ocular measurement for a single video frame.
// It is built fresh per frame and never mutated afterwards.
type Sample struct {
	Openness   float64    `json:"openness"`
	Confidence Confidence `json:"confidence"`
}

// NoDetection is the sample for a frame where nothing was located, and for
// any upstream failure (classifier or frame acquisition).
func NoDetection() Sample {
	return Sample{Openness: MinOpenness, Confidence: ConfidenceNone}
}

// ClampOpenness restricts v to [MinOpenness, MaxOpenness]. NaN maps to
// MinOpenness.
func ClampOpenness(v float64) float64 {
	switch {
	case math.IsNaN(v), v < MinOpenness:
		return MinOpenness
	case v > MaxOpenness:
		return MaxOpenness
	default:
		return v
	}
}
