package reconcile

import (
	"log/slog"
	"sort"

	"github.com/cordage-io/cordage/internal/graph"
	"github.com/cordage-io/cordage/internal/model"
)

// ChangeSet is the port-pair level difference between Required and Actual:
// New pairs must be connected, Removed pairs disconnected. A policy change
// shows up as the pair removed with the old policy and added with the new
// one.
type ChangeSet struct {
	New     map[graph.EdgeKey]graph.Mapping
	Removed map[graph.EdgeKey]graph.Mapping
}

// Empty reports whether nothing needs to change.
func (c *ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Removed) == 0
}

// PairCounts returns the number of pairs to add and to remove.
func (c *ChangeSet) PairCounts() (added, removed int) {
	for _, m := range c.New {
		added += len(m)
	}
	for _, m := range c.Removed {
		removed += len(m)
	}
	return added, removed
}

// endpoints returns every instance id appearing in the change-set, sorted.
func (c *ChangeSet) endpoints() []model.InstanceID {
	seen := make(map[model.InstanceID]struct{})
	collect := func(m map[graph.EdgeKey]graph.Mapping) {
		for key := range m {
			seen[key.Src] = struct{}{}
			seen[key.Sink] = struct{}{}
		}
	}
	collect(c.New)
	collect(c.Removed)
	ids := make([]model.InstanceID, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ComputeChanges rebuilds the Required graph for the given instances from
// their declared connections, then diffs Required against Actual. Stale
// Required entries for the instances go first; an instance missing from the
// view loses its entries in both directions.
//
// The boolean reports readiness: false when an endpoint of the change-set is
// still in the view but lacks a live deployment handle, in which case the
// caller should retry on a later tick instead of applying.
func (r *Reconciler) ComputeChanges(view View, instances []model.InstanceID) (*ChangeSet, bool) {
	for _, id := range instances {
		if _, ok := view.Instance(id); !ok {
			r.required.RemoveInstance(id)
			continue
		}
		for _, sink := range r.required.Out(id) {
			for _, pair := range r.required.Pairs(graph.EdgeKey{Src: id, Sink: sink}) {
				r.required.Remove(id, pair.SrcPort, sink, pair.SinkPort)
			}
		}
	}
	for _, id := range instances {
		in, ok := view.Instance(id)
		if !ok {
			continue
		}
		for _, conn := range in.Connections {
			r.required.Add(id, conn.SrcPort, conn.Sink, conn.SinkPort, conn.Policy)
		}
	}

	changes := r.diff()
	ready := true
	for _, id := range changes.endpoints() {
		in, ok := view.Instance(id)
		if !ok {
			// Already gone from the plan; teardown needs no handle.
			continue
		}
		if !in.Deployed() {
			ready = false
			break
		}
		if _, ok := r.manager.Deployment(in.Deployment); !ok {
			ready = false
			break
		}
	}

	added, removed := changes.PairCounts()
	r.logger.Debug("connection changes computed",
		slog.Int("new", added),
		slog.Int("removed", removed),
		slog.Bool("ready", ready))
	return changes, ready
}

// diff walks the union of edges in Required and Actual and buckets each
// port pair.
func (r *Reconciler) diff() *ChangeSet {
	changes := &ChangeSet{
		New:     make(map[graph.EdgeKey]graph.Mapping),
		Removed: make(map[graph.EdgeKey]graph.Mapping),
	}
	keys := make(map[graph.EdgeKey]struct{})
	for _, k := range r.required.Edges() {
		keys[k] = struct{}{}
	}
	for _, k := range r.actual.Edges() {
		keys[k] = struct{}{}
	}
	for key := range keys {
		want := r.required.Mapping(key)
		have := r.actual.Mapping(key)
		for pair, wantPol := range want {
			havePol, ok := have[pair]
			if ok && havePol == wantPol {
				continue
			}
			if ok {
				addPair(changes.Removed, key, pair, havePol)
			}
			addPair(changes.New, key, pair, wantPol)
		}
		for pair, havePol := range have {
			if _, ok := want[pair]; !ok {
				addPair(changes.Removed, key, pair, havePol)
			}
		}
	}
	return changes
}

func addPair(m map[graph.EdgeKey]graph.Mapping, key graph.EdgeKey, pair graph.PortPair, pol model.Policy) {
	if m[key] == nil {
		m[key] = make(graph.Mapping)
	}
	m[key][pair] = pol
}
