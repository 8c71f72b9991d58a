package ocular

import (
	"context"
	"log/slog"
	"math"
)

// Point is a landmark coordinate in image space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceLandmarks holds the six-point contour of each eye for one face, in the
// usual 68-point model order (outer corner, two upper lid points, inner
// corner, two lower lid points). An eye the detector could not place is nil.
type FaceLandmarks struct {
	LeftEye  []Point `json:"left_eye,omitempty"`
	RightEye []Point `json:"right_eye,omitempty"`
}

// LandmarkDetector locates facial landmarks in a frame.
type LandmarkDetector interface {
	DetectLandmarks(ctx context.Context, f Frame) ([]FaceLandmarks, error)
}

// LandmarkClassifier scores openness as the eye aspect ratio (EAR) averaged
// across both eyes.
type LandmarkClassifier struct {
	detector LandmarkDetector
}

// NewLandmarkClassifier returns a classifier backed by d.
func NewLandmarkClassifier(d LandmarkDetector) *LandmarkClassifier {
	return &LandmarkClassifier{detector: d}
}

func (c *LandmarkClassifier) Name() string { return "landmark" }

// Classify picks the largest face in the frame (the subject nearest the
// camera) and maps its eyes to a Sample.
func (c *LandmarkClassifier) Classify(ctx context.Context, f Frame) Sample {
	faces, err := c.detector.DetectLandmarks(ctx, f)
	if err != nil {
		slog.Debug("ocular: landmark detection failed", "seq", f.Seq, "err", err)
		return NoDetection()
	}
	face, ok := largestFace(faces)
	if !ok {
		return NoDetection()
	}
	return SampleFromLandmarks(face)
}

// SampleFromLandmarks maps one face to a Sample: both eyes measurable gives
// Full with the mean EAR, one eye gives Partial, none gives NoDetection.
func SampleFromLandmarks(face FaceLandmarks) Sample {
	left, lok := EyeAspectRatio(face.LeftEye)
	right, rok := EyeAspectRatio(face.RightEye)
	switch {
	case lok && rok:
		return Sample{Openness: ClampOpenness((left + right) / 2), Confidence: ConfidenceFull}
	case lok || rok:
		return Sample{Openness: PartialOpenness, Confidence: ConfidencePartial}
	default:
		return NoDetection()
	}
}

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2 |p0-p3|) for a six-point
// eye contour. ok is false when the contour is malformed or degenerate.
func EyeAspectRatio(eye []Point) (ear float64, ok bool) {
	if len(eye) != 6 {
		return 0, false
	}
	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 || math.IsNaN(horizontal) {
		return 0, false
	}
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	ear = (a + b) / (2 * horizontal)
	if math.IsNaN(ear) || math.IsInf(ear, 0) {
		return 0, false
	}
	return ear, true
}

func dist(p, q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// largestFace returns the face whose eyes span the widest horizontal extent.
func largestFace(faces []FaceLandmarks) (FaceLandmarks, bool) {
	var (
		best     FaceLandmarks
		bestSpan = -1.0
	)
	for _, f := range faces {
		if span := faceSpan(f); span > bestSpan {
			best, bestSpan = f, span
		}
	}
	return best, bestSpan >= 0
}

func faceSpan(f FaceLandmarks) float64 {
	minX, maxX := math.Inf(1), math.Inf(-1)
	for _, eye := range [][]Point{f.LeftEye, f.RightEye} {
		for _, p := range eye {
			minX = math.Min(minX, p.X)
			maxX = math.Max(maxX, p.X)
		}
	}
	if math.IsInf(minX, 1) {
		return 0
	}
	return maxX - minX
}
