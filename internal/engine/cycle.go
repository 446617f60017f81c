package engine

import (
	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/plan"
)

// Stage identifies one step of the resolve pipeline. Stages run in
// declaration order; Committed and RolledBack are terminal.
type Stage int

const (
	// StageSnapshot captures binding tables and deployment records so a
	// failed cycle can roll back.
	StageSnapshot Stage = iota + 1
	// StageApplyPending folds queued removals and the goal set into the
	// transaction.
	StageApplyPending
	// StageInstantiate creates instances for requirements without a usable
	// binding.
	StageInstantiate
	// StageMergeInitial deduplicates the freshly instantiated network.
	StageMergeInitial
	// StageAttachBusses splices bus clients onto their busses.
	StageAttachBusses
	// StageMergeBusses re-merges after splicing added connections.
	StageMergeBusses
	// StageGCNetwork drops instances unreachable from the binding roots.
	StageGCNetwork
	// StageValidateNoAbstract fails the cycle if abstract instances survive.
	StageValidateNoAbstract
	// StageAllocate binds concrete instances to deployments.
	StageAllocate
	// StageMergeDeployments re-merges now that host pinning is known.
	StageMergeDeployments
	// StageResolvePlaceholders retargets references from placeholders to
	// their proxied instances and drops the placeholders.
	StageResolvePlaceholders
	// StageValidateDeployed fails the cycle if a live-bound instance lacks
	// a deployment.
	StageValidateDeployed
	// StageComputePolicies derives connection policies from port dynamics.
	StageComputePolicies
	// StageGCFinal drops instances orphaned by placeholder resolution.
	StageGCFinal
	// StageCommit folds the overlay into the pool.
	StageCommit
	// StageCommitted is the terminal success state.
	StageCommitted
	// StageRolledBack is the terminal failure state.
	StageRolledBack
)

// String returns the stage name used in logs and the journal trace.
func (s Stage) String() string {
	switch s {
	case StageSnapshot:
		return "snapshot"
	case StageApplyPending:
		return "apply-pending"
	case StageInstantiate:
		return "instantiate"
	case StageMergeInitial:
		return "merge-initial"
	case StageAttachBusses:
		return "attach-busses"
	case StageMergeBusses:
		return "merge-busses"
	case StageGCNetwork:
		return "gc-network"
	case StageValidateNoAbstract:
		return "validate-no-abstract"
	case StageAllocate:
		return "allocate"
	case StageMergeDeployments:
		return "merge-deployments"
	case StageResolvePlaceholders:
		return "resolve-placeholders"
	case StageValidateDeployed:
		return "validate-deployed"
	case StageComputePolicies:
		return "compute-policies"
	case StageGCFinal:
		return "gc-final"
	case StageCommit:
		return "commit"
	case StageCommitted:
		return "committed"
	case StageRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// cycle carries the working state of one resolve attempt. Everything in it
// is private to the single resolve call that created it.
type cycle struct {
	eng   *Engine
	token string
	txn   *plan.Txn

	// Captured at StageSnapshot; restored verbatim on rollback.
	poolSnap plan.Snapshot
	mgrSnap  deploy.Snapshot
	snapped  bool

	// removals is the batch drained from the pending queue for this attempt.
	removals []Removal

	// hints accumulates per-instance deployment name hints from explicit
	// selections. Merge replacements fold hints onto the survivor.
	hints map[model.InstanceID][]string

	// replacements is the union of all merge rounds, placeholder
	// resolutions included. Post-commit reconciliation follows it.
	replacements map[model.InstanceID]model.InstanceID

	// stops collects instances whose live processes must be told to stop,
	// found by the GC stages. Issued after commit only; a rolled back cycle
	// must not have touched the transport.
	stops []model.InstanceID

	// dropped collects ids removed from the plan, for reconciliation
	// teardown.
	dropped []model.InstanceID

	stage Stage
}

func newCycle(eng *Engine, token string, removals []Removal) *cycle {
	return &cycle{
		eng:          eng,
		token:        token,
		removals:     removals,
		hints:        make(map[model.InstanceID][]string),
		replacements: make(map[model.InstanceID]model.InstanceID),
	}
}

// resolve follows the cycle's replacement chains to the surviving id.
func (c *cycle) resolve(id model.InstanceID) model.InstanceID {
	for {
		next, ok := c.replacements[id]
		if !ok {
			return id
		}
		id = next
	}
}

// absorb folds one merge result into the cycle's replacement map and moves
// deployment hints from obsolete instances onto their survivors.
func (c *cycle) absorb(reps map[model.InstanceID]model.InstanceID) {
	for from, to := range reps {
		c.replacements[from] = to
	}
	for from := range reps {
		hints, ok := c.hints[from]
		if !ok {
			continue
		}
		to := c.resolve(from)
		c.hints[to] = append(c.hints[to], hints...)
		delete(c.hints, from)
	}
}

// noteDropped records ids leaving the plan so post-commit reconciliation
// includes them in the touched set.
func (c *cycle) noteDropped(ids ...model.InstanceID) {
	c.dropped = append(c.dropped, ids...)
}
