// Package ocular defines the per-frame ocular state sample and the classifier
// contract that produces it.
//
// A Sample carries an openness score in [MinOpenness, MaxOpenness] and a
// Confidence (None, Partial, Full) describing how many eyes were located.
//
// Classifier is the pluggable detection backend. Three implementations ship:
//   - LandmarkClassifier: eye aspect ratio from six-point eye landmarks
//   - CascadeClassifier: eye region counts from a cascade detector
//   - FixedClassifier: always Full at a fixed openness, for hosts without a
//     detector
//
// Detectors themselves are external. ReportedDetector satisfies both detector
// interfaces from detections that arrive alongside the frame (e.g. posted by a
// remote process), so the same classifiers serve local and remote pipelines.
// Detector failures never surface as errors: they map to a None sample.
package ocular
