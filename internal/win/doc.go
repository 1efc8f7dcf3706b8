// Package win provides the record types shared by every other wins package.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import win; win imports nothing internal.
//
// Key design constraints:
//   - Record.ID is assigned by the durable store, never by a client
//   - CreatedAt is an ISO-8601 UTC string, fixed width, so lexical order
//     equals time order
//   - Entry is a closed variant: Durable or Optimistic, nothing else
//   - All JSON/YAML tags use snake_case
package win
