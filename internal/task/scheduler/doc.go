// Package scheduler arms a single timer for the next instant of the stored
// sync schedule and runs the sync job when it fires.
//
// State moves Idle -> Armed -> Running -> (re-arm) Armed. Runs never overlap:
// the next instant is computed only after a run finishes, so occurrences
// missed while running are skipped rather than queued.
package scheduler
