// ABOUTME: Package documentation for the persistence layer.
// ABOUTME: Explains the schema, time handling, and how consumers wire the store in.

// Package store persists conversations, their turns, and persona definitions
// in a single SQLite database via modernc.org/sqlite (no cgo).
//
// Three tables:
//
//   - personas: one row per persona, traits as a JSON array in a text column.
//     The in-memory registry is seeded from here at startup and written back
//     on every registry change.
//   - conversations: one row per session with its participant list (JSON),
//     topic, and current run state. updated_at moves on every saved turn, so
//     listing orders by recency.
//   - messages: one row per turn, unique on (conversation_id, seq). Loading
//     history returns chronological order; a limit returns the newest turns.
//
// All timestamps are stored as RFC3339 UTC text. The database runs in WAL
// mode with foreign keys on, so read paths (console, API listings) never
// block the session loops' writes.
//
// The conversation service consumes this store through its own narrow
// interface; tests substitute an in-memory double. Nothing here knows about
// schedulers or providers.
package store
