package plan

import (
	"sort"

	"github.com/cordage-io/cordage/internal/model"
)

// GC removes every instance unreachable from the root set.
//
// Roots are the binding-table targets plus instances marked permanent or
// mission. Reachability follows composite child edges and connection edges
// (the latter in both directions: anything in the dataflow neighborhood of a
// useful instance stays).
//
// Unreachable instances are dropped from the transaction. The ones that were
// live at the time are additionally returned in stopped, so the orchestrator
// can ask the transport to bring the processes down; the deployment layer
// keeps tracking them until the stop is observed.
func (t *Txn) GC() (dropped, stopped []model.InstanceID) {
	view := t.Instances()

	reachable := make(map[model.InstanceID]struct{})
	var queue []model.InstanceID
	mark := func(id model.InstanceID) {
		if _, ok := view[id]; !ok {
			return
		}
		if _, seen := reachable[id]; seen {
			return
		}
		reachable[id] = struct{}{}
		queue = append(queue, id)
	}

	for _, id := range t.pool.Bindings() {
		mark(id)
	}
	for id, in := range view {
		if in.Permanent || in.Mission {
			mark(id)
		}
	}

	// Undirected connection adjacency; child edges stay directed.
	inbound := make(map[model.InstanceID][]model.InstanceID)
	for id, in := range view {
		for _, conn := range in.Connections {
			inbound[conn.Sink] = append(inbound[conn.Sink], id)
		}
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		in := view[id]
		// A reachable placeholder keeps its proxied instance alive:
		// resolution needs the target to still exist.
		if in.Placeholder && in.ProxyFor != 0 {
			mark(in.ProxyFor)
		}
		for _, child := range in.Children {
			mark(child)
		}
		for _, conn := range in.Connections {
			mark(conn.Sink)
		}
		for _, src := range inbound[id] {
			mark(src)
		}
	}

	for id, in := range view {
		if _, ok := reachable[id]; ok {
			continue
		}
		if in.Live() {
			stopped = append(stopped, id)
		}
		t.Drop(id)
		dropped = append(dropped, id)
	}
	sort.Slice(dropped, func(i, j int) bool { return dropped[i] < dropped[j] })
	sort.Slice(stopped, func(i, j int) bool { return stopped[i] < stopped[j] })
	return dropped, stopped
}
