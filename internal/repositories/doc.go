// Package repositories implements SQLite persistence for all domain entities.
//
// Each repository handles CRUD operations with atomic sequence generation for human-readable ordering.
// Sources and jobs support soft deletes via deleted_at timestamps and exclude deleted records from queries by default.
// Items are hard deleted, since pruning removes them for good.
//
// Key Implementations:
//   - [SourceRepository] : source configuration plus separate write paths for sync state and schedules
//   - [ItemRepository] : per-source items, unique on (source_id, remote_id)
//   - [JobRepository] : job history with JSON-encoded log trails, newest first
//
// Lookups that match nothing return an error wrapping shared.ErrNotFound.
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
