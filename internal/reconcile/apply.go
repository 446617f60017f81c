package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/graph"
	"github.com/cordage-io/cordage/internal/model"
)

// OutcomeKind classifies what Apply did with a change-set.
type OutcomeKind int

const (
	// OutcomeApplied means every pair landed and Actual matches Required.
	OutcomeApplied OutcomeKind = iota
	// OutcomeDeferred means nothing was attempted; the change-set must be
	// re-applied on a later tick, after restarts complete or endpoints
	// become executable.
	OutcomeDeferred
	// OutcomeFailed means at least one pair could not land. PortErrors
	// lists the failures; the surviving Actual entries keep the cycle
	// retryable.
	OutcomeFailed
)

// String returns the lowercase name used in logs and traces.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeApplied:
		return "applied"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// PortError records a single pair that failed to connect or disconnect.
type PortError struct {
	Op   string
	Src  model.PortRef
	Sink model.PortRef
	Err  error
}

// Outcome is the result of one Apply call.
type Outcome struct {
	Kind OutcomeKind
	// Restarting lists the instances a deferred outcome is waiting on,
	// sorted ascending. Empty unless the deferral was for a restart.
	Restarting []model.InstanceID
	PortErrors []PortError
	Err        error
}

// Apply pushes a change-set to the transport.
//
// The protocol has four steps. First the restart set is computed; if any
// running instance owns a static port touched by the change-set, a restart
// is requested through the deployment manager and the outcome is Deferred
// so the change-set can land against the stopped processes on a later
// tick. Second, every endpoint still in the view must be executable, or
// the outcome is Deferred without touching the transport. Third, removed
// pairs are disconnected; a communication error means the peer is already
// gone, so the pair is retired as if the disconnect succeeded, while any
// other error keeps the Actual entry so the next cycle retries it.
// Fourth, new pairs are connected and recorded in Actual and the journal.
//
// When the last required inbound edge into a sink port vanishes, any
// entries still held in Actual for that port are force-disconnected so the
// receiver does not keep a half-open subscription.
func (r *Reconciler) Apply(ctx context.Context, view View, changes *ChangeSet, resolve func(model.InstanceID) model.InstanceID) Outcome {
	if changes.Empty() {
		return Outcome{Kind: OutcomeApplied}
	}

	restarts := r.RestartSet(view, changes, resolve)
	if restarts.Cardinality() > 0 {
		ids := sortedIDs(restarts)
		req := deploy.RestartRequest{Stop: ids}
		deps := mapsetOfDeployments(view, ids)
		req.Start = deps
		r.manager.RequestRestart(ctx, req)
		r.logger.Info("apply deferred for static port restart",
			slog.Int("instances", len(ids)))
		return Outcome{Kind: OutcomeDeferred, Restarting: ids}
	}

	for _, id := range changes.endpoints() {
		in, ok := view.Instance(id)
		if !ok || in.State.Finished() {
			// Teardown of a vanished or finishing endpoint rides on
			// the communication-error path below.
			continue
		}
		if !r.transport.IsExecutable(id) {
			r.logger.Debug("apply deferred, endpoint not executable",
				slog.Uint64("instance", uint64(id)))
			return Outcome{Kind: OutcomeDeferred}
		}
	}

	var portErrs []PortError

	touched := make(map[model.PortRef]struct{})
	for _, key := range sortedEdgeKeys(changes.Removed) {
		for _, pair := range sortedMappingPairs(changes.Removed[key]) {
			src := model.PortRef{Instance: key.Src, Port: pair.SrcPort}
			sink := model.PortRef{Instance: key.Sink, Port: pair.SinkPort}
			err := r.transport.Disconnect(ctx, src, sink)
			switch {
			case err == nil, errors.Is(err, deploy.ErrComm):
				if err != nil {
					r.logger.Warn("disconnect raced a dead peer, treating as done",
						slog.Uint64("src", uint64(src.Instance)),
						slog.Uint64("sink", uint64(sink.Instance)))
				}
				r.retirePair(key, pair, src, sink)
				touched[sink] = struct{}{}
			default:
				portErrs = append(portErrs, PortError{Op: "disconnect", Src: src, Sink: sink, Err: err})
			}
		}
	}
	r.drainReceivers(ctx, touched)

	for _, key := range sortedEdgeKeys(changes.New) {
		for _, pair := range sortedMappingPairs(changes.New[key]) {
			policy := changes.New[key][pair]
			src := model.PortRef{Instance: key.Src, Port: pair.SrcPort}
			sink := model.PortRef{Instance: key.Sink, Port: pair.SinkPort}
			if err := r.transport.Connect(ctx, src, sink, policy); err != nil {
				portErrs = append(portErrs, PortError{Op: "connect", Src: src, Sink: sink, Err: err})
				continue
			}
			r.actual.Add(key.Src, pair.SrcPort, key.Sink, pair.SinkPort, policy)
			r.markStatics(view, src, sink)
			if r.journal != nil {
				if err := r.journal.RecordConnection(src, sink, policy); err != nil {
					r.logger.Error("journal write failed", slog.Any("error", err))
				}
			}
		}
	}

	if len(portErrs) > 0 {
		return Outcome{Kind: OutcomeFailed, PortErrors: portErrs, Err: portErrs[0].Err}
	}
	return Outcome{Kind: OutcomeApplied}
}

// retirePair removes a pair from Actual and the journal.
func (r *Reconciler) retirePair(key graph.EdgeKey, pair graph.PortPair, src, sink model.PortRef) {
	r.actual.Remove(key.Src, pair.SrcPort, key.Sink, pair.SinkPort)
	if r.journal != nil {
		if err := r.journal.DeleteConnection(src, sink); err != nil {
			r.logger.Error("journal delete failed", slog.Any("error", err))
		}
	}
}

// drainReceivers force-disconnects Actual entries still feeding a sink port
// whose required inbound edges have all vanished. Entries left behind by a
// failed disconnect would otherwise pin the receiver half open.
func (r *Reconciler) drainReceivers(ctx context.Context, touched map[model.PortRef]struct{}) {
	refs := make([]model.PortRef, 0, len(touched))
	for ref := range touched {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Instance != refs[j].Instance {
			return refs[i].Instance < refs[j].Instance
		}
		return refs[i].Port < refs[j].Port
	})
	for _, ref := range refs {
		if r.required.HasInboundPort(ref.Instance, ref.Port) {
			continue
		}
		for _, srcID := range r.actual.In(ref.Instance) {
			key := graph.EdgeKey{Src: srcID, Sink: ref.Instance}
			for _, pair := range r.actual.Pairs(key) {
				if pair.SinkPort != ref.Port {
					continue
				}
				src := model.PortRef{Instance: srcID, Port: pair.SrcPort}
				if err := r.transport.Disconnect(ctx, src, ref); err != nil && !errors.Is(err, deploy.ErrComm) {
					r.logger.Warn("force disconnect of drained receiver failed",
						slog.Uint64("src", uint64(srcID)),
						slog.Uint64("sink", uint64(ref.Instance)),
						slog.Any("error", err))
				}
				r.retirePair(key, pair, src, ref)
			}
		}
	}
}

func sortedIDs(set mapset.Set[model.InstanceID]) []model.InstanceID {
	ids := set.ToSlice()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func mapsetOfDeployments(view View, ids []model.InstanceID) []model.DeploymentID {
	seen := make(map[model.DeploymentID]struct{})
	var out []model.DeploymentID
	for _, id := range ids {
		in, ok := view.Instance(id)
		if !ok || !in.Deployed() {
			continue
		}
		if _, dup := seen[in.Deployment]; dup {
			continue
		}
		seen[in.Deployment] = struct{}{}
		out = append(out, in.Deployment)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortedEdgeKeys(m map[graph.EdgeKey]graph.Mapping) []graph.EdgeKey {
	keys := make([]graph.EdgeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Src != keys[j].Src {
			return keys[i].Src < keys[j].Src
		}
		return keys[i].Sink < keys[j].Sink
	})
	return keys
}

func sortedMappingPairs(m graph.Mapping) []graph.PortPair {
	pairs := make([]graph.PortPair, 0, len(m))
	for p := range m {
		pairs = append(pairs, p)
	}
	graph.SortPairs(pairs)
	return pairs
}
