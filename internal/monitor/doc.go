// Package monitor owns the drowsiness engines of every monitored stream.
//
// Registry maps a stream ID to its engine and classifier. A stream is
// registered by Start and keeps its engine until it goes idle for longer than
// the TTL, at which point Evict (driven by Run) stops its session and removes
// it. Each stream has an independent engine; nothing is shared across streams
// except the default settings applied to new ones.
//
// Observers are notified synchronously after every processed frame and after
// every session stop, so implementations must not block.
package monitor
