// Package session aggregates per-session monitoring statistics.
//
// An Aggregator is inactive until Start. While active it observes the alert
// flag once per frame and counts rising edges (false→true), not alert frames.
// Stop returns the final Stats and discards the session entirely; the next
// Start begins a new session with a fresh ID, start time and counters.
//
// Snapshot may be called from any goroutine at any rate, e.g. from a UI
// refresh timer, independently of the frame rate.
package session
