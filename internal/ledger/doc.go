// Package ledger implements the append-only, hash-chained event log of a
// research session.
//
// Every accepted event produces exactly one Entry. The first entry's
// PreviousHash is GenesisHash (64 hex zeros); every later entry records the
// ChainHash of its predecessor, so any edit to a stored event is detectable by
// recomputing the chain (see package verifier).
//
// Appends are admitted one at a time, strictly in arrival order, and an entry
// becomes visible only after both the Event and the Entry are committed.
//
// A Journal can mirror committed pairs to durable storage:
//   - MemoryJournal: in-process, for tests and single-process deployments.
//   - PostgresJournal: pgx-backed, for production use.
//   - SQLiteJournal: embedded file database for standalone study stations.
package ledger
