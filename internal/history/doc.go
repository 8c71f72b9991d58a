// Package history persists finished monitoring sessions and the alert
// episodes raised during them.
//
// Store wraps a database/sql handle for either SQLite (modernc.org/sqlite,
// pure Go) or PostgreSQL (pgx stdlib driver). The schema is applied with
// goose from migrations embedded in the binary. Timestamps are stored as
// fixed-width UTC text so that both backends order them the same way.
//
// Recorder sits on the frame path as a monitor observer. It never blocks:
// records go into a bounded queue that Run drains, and the oldest record is
// dropped when the queue is full.
package history
