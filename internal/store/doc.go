// Package store provides SQLite-backed durable storage for wins.
//
// The store holds one append-only table:
//   - wins: id, title, category, created_at
//
// The schema is owned by package migrate; the store never issues DDL.
//
// # Ordering
//
// ListAll returns ORDER BY created_at DESC, id DESC. created_at is a
// fixed-width ISO-8601 string, so lexical order is chronological, and id is
// strictly increasing, so it breaks ties between identical timestamps.
//
// # Errors
//
// Every failure is returned as *Error with Kind KindConstraint (the input
// was rejected, nothing was written) or KindIO (the engine, the file, or a
// deadline failed).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
