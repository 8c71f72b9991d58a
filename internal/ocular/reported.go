package ocular

import (
	"context"
	"errors"
)

// ErrNotReported is returned by ReportedDetector when the frame carries no
// detections of the requested kind.
var ErrNotReported = errors.New("ocular: detections not reported with frame")

// ReportedDetector serves detections computed upstream and attached to the
// Frame. It satisfies both LandmarkDetector and RegionDetector.
type ReportedDetector struct{}

// DetectLandmarks returns f.Faces. An empty slice is a valid "no face" report.
func (ReportedDetector) DetectLandmarks(_ context.Context, f Frame) ([]FaceLandmarks, error) {
	return f.Faces, nil
}

// DetectRegions returns f.Regions, or ErrNotReported when absent.
func (ReportedDetector) DetectRegions(_ context.Context, f Frame) (Regions, error) {
	if f.Regions == nil {
		return Regions{}, ErrNotReported
	}
	return *f.Regions, nil
}

// NewClassifier builds the classifier named by kind ("landmark", "cascade" or
// "fixed") on top of ReportedDetector. Unknown kinds fall back to fixed.
func NewClassifier(kind string, fixedOpenness float64) Classifier {
	switch kind {
	case "landmark":
		return NewLandmarkClassifier(ReportedDetector{})
	case "cascade":
		return NewCascadeClassifier(ReportedDetector{})
	default:
		return NewFixedClassifier(fixedOpenness)
	}
}
