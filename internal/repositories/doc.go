// Package repositories implements SQLite persistence for upscale history.
//
// Key Implementations:
//   - [JobRepository] : job CRUD with status filters and soft deletes
//   - [JobRecorder] : adapts [JobRepository] to the session controller's recorder hook
//
// Sequence numbers provide stable, human-readable ordering (job #42) independent of UUIDs and creation timestamps.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
