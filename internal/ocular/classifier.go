package ocular

import (
	"context"
	"time"
)

// Frame is one captured video frame handed to a Classifier.
//
// Faces and Regions carry detections computed upstream by the landmark or
// cascade detector process; ReportedDetector hands them to the classifiers.
type Frame struct {
	Seq        uint64
	CapturedAt time.Time

	Faces   []FaceLandmarks
	Regions *Regions
}

// Classifier turns a frame into an ocular Sample. Implementations must not
// fail: anything they cannot measure is reported as NoDetection.
type Classifier interface {
	Classify(ctx context.Context, f Frame) Sample
	Name() string
}

// FixedClassifier reports the same Full-confidence openness for every frame.
// It keeps a host running when no detector is available; with the default
// value the engine never alerts.
type FixedClassifier struct {
	Openness float64
}

// DefaultFixedOpenness matches a typical open-eye aspect ratio.
const DefaultFixedOpenness = 0.3

// NewFixedClassifier returns a FixedClassifier reporting v (clamped).
func NewFixedClassifier(v float64) *FixedClassifier {
	return &FixedClassifier{Openness: ClampOpenness(v)}
}

func (c *FixedClassifier) Classify(context.Context, Frame) Sample {
	return Sample{Openness: c.Openness, Confidence: ConfidenceFull}
}

func (c *FixedClassifier) Name() string { return "fixed" }
