// Package store persists scheduled jobs.
//
// The store is the single source of truth for "is this job still active";
// armed timers are a derived cache rebuilt from the store at startup.
//
// Drivers:
//   - "memory": process-local, for tests and ephemeral hosts
//   - "file": dependency-free journal + snapshot files
//   - "sqlite": SQLite database file (modernc, no cgo)
package store
