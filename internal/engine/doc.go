// Package engine implements the resolve orchestrator: the single-writer
// control loop that turns declared requirements into a deployed, connected
// component network.
//
// ARCHITECTURE: external callers enqueue events (requirement changes,
// removal requests, transport notifications, scheduling ticks); Run drains
// them in FIFO order from exactly one goroutine. A tick runs at most one
// resolve cycle, a fixed stage pipeline executed inside a plan transaction:
//
//	Snapshot -> ApplyPendingAddRemove -> Instantiate -> Merge ->
//	AttachBusses -> Merge -> GC -> ValidateNoAbstract ->
//	AllocateDeployments -> Merge -> ResolvePlaceholders ->
//	ValidateFullyDeployed -> ComputePolicies -> GC -> Commit
//
// On success the pipeline commits the transaction, launches newly allocated
// deployments, and hands the freshly diffed connection change-set to the
// reconciler. On failure it discards the overlay, restores the pool and
// deployment snapshots, requeues pending removals with their force flag set,
// and retries the whole cycle exactly once.
//
// INVARIANTS:
//   - All pool, manager and graph mutation happens in the Run goroutine.
//     Enqueue and the event constructors are the only concurrency surface.
//   - A failed cycle leaves the committed state exactly as the snapshot
//     recorded it. The exception is the unrecoverable class (plan invariant
//     violations, failures before the snapshot is confirmed): those halt
//     resolution without attempting a rollback, and Run returns the error.
//   - Every journal row and trace event carries a sequence number from one
//     logical clock, and every row of one cycle carries the same cycle
//     token.
//
// The journal is write-behind: the reconciler's Actual graph is
// authoritative in-process, the store only trails it so a restarted
// supervisor can warm-start and so traces survive the process.
package engine
