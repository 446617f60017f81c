// Package store provides the SQLite-backed journal behind the orchestrator.
//
// Two tables:
//   - connections: one row per live port pair, trailing the in-process
//     Actual graph. Write-behind: the graph is authoritative while the
//     process runs; the journal warm-starts it after a supervisor restart.
//   - cycle_events: append-only resolve-cycle trace, ordered by the logical
//     clock (seq INTEGER, never timestamps). detail is canonical JSON, so
//     trace bytes and digests are stable across runs.
//
// All queries order by seq ASC with explicit tiebreakers, so reads are
// deterministic across restarts over the same journal.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package store
