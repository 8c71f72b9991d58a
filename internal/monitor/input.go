package monitor

import (
	"context"
	"time"

	"github.com/drowseguard/drowseguard/internal/engine"
	"github.com/drowseguard/drowseguard/internal/ocular"
)

// FrameInput is one frame submitted by a remote detector. It carries either
// an already classified sample (Openness and/or Confidence) or raw detections
// (Faces or Regions) for the stream's classifier to interpret.
type FrameInput struct {
	Seq        uint64                 `json:"seq,omitempty"`
	CapturedAt time.Time              `json:"captured_at,omitempty"`
	Openness   *float64               `json:"openness,omitempty"`
	Confidence *ocular.Confidence     `json:"confidence,omitempty"`
	Faces      []ocular.FaceLandmarks `json:"faces,omitempty"`
	Regions    *ocular.Regions        `json:"regions,omitempty"`
}

// Sample returns the classified sample carried by in, if any. An openness
// without a confidence is taken as a Full detection.
func (in FrameInput) Sample() (ocular.Sample, bool) {
	if in.Openness == nil && in.Confidence == nil {
		return ocular.Sample{}, false
	}
	s := ocular.Sample{Confidence: ocular.ConfidenceFull}
	if in.Confidence != nil {
		s.Confidence = *in.Confidence
	}
	if in.Openness != nil {
		s.Openness = *in.Openness
	}
	return s, true
}

// Frame converts in to a classifier frame.
func (in FrameInput) Frame() ocular.Frame {
	return ocular.Frame{
		Seq:        in.Seq,
		CapturedAt: in.CapturedAt,
		Faces:      in.Faces,
		Regions:    in.Regions,
	}
}

// Submit processes in on stream id, classifying raw detections with the
// stream's classifier.
func (r *Registry) Submit(ctx context.Context, id string, in FrameInput) (engine.FrameResult, error) {
	if s, ok := in.Sample(); ok {
		return r.ProcessSample(id, s)
	}
	return r.Process(ctx, id, in.Frame())
}
