// Package trigger computes when a job should fire.
//
// Two trigger kinds exist:
//   - Interval: fixed delay from a reference time, optionally repeating at a
//     fixed cadence (prev fire + delay, so drift never accumulates beyond one
//     delay period).
//   - Calendar: standard 5-field cron expression, optionally repeating.
//
// The package also translates structured calendar options (hour, minute,
// day-of-week, ...) into a canonical cron expression, validating option
// combinations before anything is persisted.
package trigger
