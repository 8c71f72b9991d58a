package ocular

import (
	"context"
	"log/slog"
)

// Regions is the output of a cascade detector for one frame.
type Regions struct {
	Faces int `json:"faces"`
	Eyes  int `json:"eyes"`
}

// RegionDetector counts face and eye regions in a frame.
type RegionDetector interface {
	DetectRegions(ctx context.Context, f Frame) (Regions, error)
}

// CascadeClassifier derives ocular state from eye region counts. Eye cascades
// only match open eyes, so closed eyes show up as missing regions.
type CascadeClassifier struct {
	detector RegionDetector
}

// NewCascadeClassifier returns a classifier backed by d.
func NewCascadeClassifier(d RegionDetector) *CascadeClassifier {
	return &CascadeClassifier{detector: d}
}

func (c *CascadeClassifier) Name() string { return "cascade" }

func (c *CascadeClassifier) Classify(ctx context.Context, f Frame) Sample {
	r, err := c.detector.DetectRegions(ctx, f)
	if err != nil {
		slog.Debug("ocular: region detection failed", "seq", f.Seq, "err", err)
		return NoDetection()
	}
	return SampleFromRegions(r)
}

// SampleFromRegions maps region counts to a Sample.
func SampleFromRegions(r Regions) Sample {
	switch {
	case r.Faces <= 0 || r.Eyes <= 0:
		return NoDetection()
	case r.Eyes == 1:
		return Sample{Openness: PartialOpenness, Confidence: ConfidencePartial}
	default:
		return Sample{Openness: MaxOpenness, Confidence: ConfidenceFull}
	}
}
