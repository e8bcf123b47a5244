// Package storage persists students, their contest and submission history,
// derived statistics, the sync schedule and run summaries.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite file database (default)
//   - "postgres": lib/pq
//   - "memory": process-local maps, for tests and throwaway runs
package storage
