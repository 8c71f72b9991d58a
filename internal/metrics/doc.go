// Package metrics exposes engine activity as Prometheus metrics.
//
// Metrics implements the monitor observer interface: frames, alert edges and
// finished sessions are recorded as they happen, while stream, session and
// alerting counts are read from the registry at scrape time.
package metrics
