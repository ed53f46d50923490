// Package store provides persistent storage for discussion messages using SQLite.
//
// # Architecture
//
// Store is the single interface consumed by the rest of the gateway. Two
// implementations exist:
//
//   - SQLiteStore: database/sql over modernc.org/sqlite (driver "sqlite") or
//     mattn/go-sqlite3 (driver "sqlite3", requires cgo)
//   - MockStore: in-memory, with FailNext for injecting backend failures
//
// # Data Models
//
//   - Message: one chat message in a topic, with author snapshot, soft-delete
//     state and an optional reply target
//   - Reaction: one emoji per (message, user); a new reaction replaces the old
//   - Profile: display name and avatar for a user id
//
// Messages have an internal kind ("message" or "system"). System entries and
// soft-deleted messages never appear in History or CountMessages.
//
// # Ordering
//
// Writers are serialized by a mutex inside the store and every message gets a
// creation timestamp strictly greater than the previous one, so history order
// is append order. History pages backward with an exclusive Before cursor.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;   -- file databases only
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// Timestamps are stored as INTEGER unix nanoseconds.
//
// # Error Handling
//
//   - ErrNotFound: unknown message, deleted message for reactions, missing reply target
//   - ErrPermissionDenied: soft delete by someone other than the author
//   - ErrValidation: empty or oversized body, anonymous author, missing topic
//
// Any other error is a backend failure; callers treat it as transient.
package store
