// Package receiver implements the gRPC ingest service
// drowseguard.v1.MonitorService.
//
// Detector processes call StartSession once per stream, then push frames with
// ProcessFrame or over the bidirectional StreamFrames call, and finally call
// StopSession. Messages are JSON-encoded through a codec registered with
// grpc/encoding under the content subtype "json", so clients need no
// generated stubs; Client in this package is a ready-made one.
//
// Authentication is enforced by server interceptors before any handler runs.
package receiver
