// Package storage persists the admin audit log and notifier dedup state.
//
// Drivers:
//   - "file": JSON Lines audit log plus a dedup snapshot and journal
//   - "sqlite": a SQLite database with embedded goose migrations
package storage
