// Package migrate applies versioned schema changes to a wins database.
//
// Steps are SQL files named NNNN_name.sql. Each step runs exactly once per
// database file, in ascending NNNN order, inside a single transaction that
// also records the step in schema_migrations and bumps PRAGMA user_version.
// A crash mid-step therefore leaves either both the DDL and its marker, or
// neither.
//
// Applied steps are pinned by SHA-256 checksum. If a step's file changes
// after it was applied, ApplyPending fails rather than silently diverging.
package migrate
