// Package graph implements the directed connection graph between component
// instances. Two graphs exist at runtime: the Required graph (what the
// resolved network asks for) and the Actual graph (what the transport layer
// has established). Reconciliation diffs them at dataflow-pair granularity.
//
// Edges are keyed by (source instance, sink instance); each edge carries a
// mapping from port pairs to the connection policy negotiated for that pair.
// All read methods that return collections iterate in a deterministic order
// so traces and golden tests are stable.
package graph

import (
	"sort"

	"github.com/cordage-io/cordage/internal/model"
)

// EdgeKey identifies a directed edge between two instances.
type EdgeKey struct {
	Src  model.InstanceID
	Sink model.InstanceID
}

// PortPair identifies one dataflow pair on an edge.
type PortPair struct {
	SrcPort  string
	SinkPort string
}

// Mapping is the set of dataflow pairs carried by one edge, with the policy
// assigned to each pair.
type Mapping map[PortPair]model.Policy

// Clone returns an independent copy of the mapping.
func (m Mapping) Clone() Mapping {
	out := make(Mapping, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Graph is a mutable directed multigraph over instance IDs. The zero value is
// not usable; call New.
//
// Besides edges, the graph remembers which ports are static. The flag lives
// here rather than on the instance because restart decisions must outlive the
// instance: the Actual graph can hold edges whose endpoints already left the
// plan, and reconnecting those still requires knowing whether the port was
// static.
type Graph struct {
	edges   map[EdgeKey]Mapping
	out     map[model.InstanceID]map[model.InstanceID]struct{}
	in      map[model.InstanceID]map[model.InstanceID]struct{}
	statics map[model.PortRef]struct{}
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		edges:   make(map[EdgeKey]Mapping),
		out:     make(map[model.InstanceID]map[model.InstanceID]struct{}),
		in:      make(map[model.InstanceID]map[model.InstanceID]struct{}),
		statics: make(map[model.PortRef]struct{}),
	}
}

// MarkStatic records that reconnecting the port requires restarting its
// owner. The flag persists until the owner's edges are removed wholesale via
// RemoveInstance.
func (g *Graph) MarkStatic(ref model.PortRef) {
	g.statics[ref] = struct{}{}
}

// IsStatic reports whether the port was marked static.
func (g *Graph) IsStatic(ref model.PortRef) bool {
	_, ok := g.statics[ref]
	return ok
}

// Add records one dataflow pair on the edge src->sink, overwriting the policy
// if the pair is already present.
func (g *Graph) Add(src model.InstanceID, srcPort string, sink model.InstanceID, sinkPort string, policy model.Policy) {
	key := EdgeKey{Src: src, Sink: sink}
	m, ok := g.edges[key]
	if !ok {
		m = make(Mapping)
		g.edges[key] = m
		addAdj(g.out, src, sink)
		addAdj(g.in, sink, src)
	}
	m[PortPair{SrcPort: srcPort, SinkPort: sinkPort}] = policy
}

// Remove drops one dataflow pair. When the last pair on an edge is removed
// the edge itself disappears from the adjacency indexes. Removing a pair that
// is not present is a no-op.
func (g *Graph) Remove(src model.InstanceID, srcPort string, sink model.InstanceID, sinkPort string) {
	key := EdgeKey{Src: src, Sink: sink}
	m, ok := g.edges[key]
	if !ok {
		return
	}
	delete(m, PortPair{SrcPort: srcPort, SinkPort: sinkPort})
	if len(m) == 0 {
		delete(g.edges, key)
		dropAdj(g.out, src, sink)
		dropAdj(g.in, sink, src)
	}
}

// Mapping returns a copy of the pair mapping on the edge, or nil when the
// edge does not exist.
func (g *Graph) Mapping(key EdgeKey) Mapping {
	m, ok := g.edges[key]
	if !ok {
		return nil
	}
	return m.Clone()
}

// Has reports whether the pair exists on the edge.
func (g *Graph) Has(key EdgeKey, pair PortPair) bool {
	m, ok := g.edges[key]
	if !ok {
		return false
	}
	_, ok = m[pair]
	return ok
}

// Policy returns the policy recorded for one pair.
func (g *Graph) Policy(key EdgeKey, pair PortPair) (model.Policy, bool) {
	m, ok := g.edges[key]
	if !ok {
		return model.Policy{}, false
	}
	p, ok := m[pair]
	return p, ok
}

// RemoveInstance drops every edge that touches the instance, in either
// direction, along with the instance's static marks.
func (g *Graph) RemoveInstance(id model.InstanceID) {
	for _, sink := range g.Out(id) {
		delete(g.edges, EdgeKey{Src: id, Sink: sink})
		dropAdj(g.out, id, sink)
		dropAdj(g.in, sink, id)
	}
	for _, src := range g.In(id) {
		delete(g.edges, EdgeKey{Src: src, Sink: id})
		dropAdj(g.out, src, id)
		dropAdj(g.in, id, src)
	}
	for ref := range g.statics {
		if ref.Instance == id {
			delete(g.statics, ref)
		}
	}
}

// Out returns the sinks reachable from id over a single edge, ascending.
func (g *Graph) Out(id model.InstanceID) []model.InstanceID {
	return sortedAdj(g.out[id])
}

// In returns the sources with an edge into id, ascending.
func (g *Graph) In(id model.InstanceID) []model.InstanceID {
	return sortedAdj(g.in[id])
}

// HasInbound reports whether any edge terminates at id.
func (g *Graph) HasInbound(id model.InstanceID) bool {
	return len(g.in[id]) > 0
}

// HasInboundPort reports whether any edge delivers into the named port of id.
func (g *Graph) HasInboundPort(id model.InstanceID, port string) bool {
	for _, src := range g.In(id) {
		for pair := range g.edges[EdgeKey{Src: src, Sink: id}] {
			if pair.SinkPort == port {
				return true
			}
		}
	}
	return false
}

// HasOutbound reports whether any edge originates at id.
func (g *Graph) HasOutbound(id model.InstanceID) bool {
	return len(g.out[id]) > 0
}

// Edges returns every edge key sorted by (Src, Sink).
func (g *Graph) Edges() []EdgeKey {
	keys := make([]EdgeKey, 0, len(g.edges))
	for k := range g.edges {
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

// Pairs returns the pair keys on one edge sorted by (SrcPort, SinkPort).
func (g *Graph) Pairs(key EdgeKey) []PortPair {
	m := g.edges[key]
	pairs := make([]PortPair, 0, len(m))
	for p := range m {
		pairs = append(pairs, p)
	}
	SortPairs(pairs)
	return pairs
}

// SortPairs orders pairs by (SrcPort, SinkPort) in place.
func SortPairs(pairs []PortPair) {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].SrcPort != pairs[j].SrcPort {
			return pairs[i].SrcPort < pairs[j].SrcPort
		}
		return pairs[i].SinkPort < pairs[j].SinkPort
	})
}

// Len returns the number of edges.
func (g *Graph) Len() int {
	return len(g.edges)
}

// PairCount returns the total number of dataflow pairs across all edges.
func (g *Graph) PairCount() int {
	n := 0
	for _, m := range g.edges {
		n += len(m)
	}
	return n
}

// Clone returns a deep copy. Snapshots taken before a resolve transaction use
// this so rollback can restore the pre-transaction graph wholesale.
func (g *Graph) Clone() *Graph {
	c := New()
	for key, m := range g.edges {
		c.edges[key] = m.Clone()
		addAdj(c.out, key.Src, key.Sink)
		addAdj(c.in, key.Sink, key.Src)
	}
	for ref := range g.statics {
		c.statics[ref] = struct{}{}
	}
	return c
}

func addAdj(adj map[model.InstanceID]map[model.InstanceID]struct{}, from, to model.InstanceID) {
	m, ok := adj[from]
	if !ok {
		m = make(map[model.InstanceID]struct{})
		adj[from] = m
	}
	m[to] = struct{}{}
}

func dropAdj(adj map[model.InstanceID]map[model.InstanceID]struct{}, from, to model.InstanceID) {
	m, ok := adj[from]
	if !ok {
		return
	}
	delete(m, to)
	if len(m) == 0 {
		delete(adj, from)
	}
}

func sortedAdj(m map[model.InstanceID]struct{}) []model.InstanceID {
	ids := make([]model.InstanceID, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
