// Package engine is the per-stream entry point of the drowsiness detector.
//
// Engine wires a debounce.Machine and a session.Aggregator together. Frame
// processing code calls ProcessFrame once per frame; it runs the debounce
// update, the aggregator observation and the stats snapshot in that order
// under a single lock and returns an immutable FrameResult. Settings writes
// from a control path (Configure) and UI reads (Snapshot, Last) share the same
// lock, so observers never see a torn intermediate state.
//
// One Engine serves exactly one stream. Hosts monitoring several streams
// create one Engine each; see package monitor.
package engine
