// Package shipper forwards frames to a remote drowseguard server over the
// MonitorService gRPC API.
//
// Shipper.Ship() is non-blocking: frames are placed in an in-memory channel.
// When the buffer is full the oldest frame is evicted so the most recent
// ocular state always reaches the server.
//
// Shipper.Run() drains the buffer in a loop, reconnecting with truncated
// exponential backoff (1s→60s, ±25% jitter) on connection or send errors. A
// frame that failed on a transient error is resent first after reconnecting,
// so per-stream ordering holds. Permanent gRPC errors (Unauthenticated,
// PermissionDenied, InvalidArgument, NotFound) discard the frame.
//
// Auth: API key via gRPC metadata header, TLS with system roots, or
// plaintext for local development.
//
// The dialFn field is injectable for testing (bufconn).
package shipper
