// Package store is the SQLite journal of reconciliation passes.
//
// Each pass is one row in passes; every event the pass emitted is a row in
// events keyed by (pass_id, idx). Snapshots themselves are never stored,
// only their fingerprints and the keys that changed between them. Field
// difference values are never journaled.
//
// Ordering: passes are read ORDER BY seq ASC, id ASC COLLATE BINARY, events
// ORDER BY idx ASC, so a journal always reads back in processing order.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
package store
