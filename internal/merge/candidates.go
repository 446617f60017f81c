package merge

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
)

// candidateGraph is the directed merge-candidate graph for one solver round.
// An edge a -> b means a can be used in place of b; b's parents are its
// candidates. Nodes are instance ids, so edges stay valid as the underlying
// instances mutate, and all enumeration is in ascending id order.
type candidateGraph struct {
	nodeSet  mapset.Set[model.InstanceID]
	parents  map[model.InstanceID]mapset.Set[model.InstanceID]
	children map[model.InstanceID]mapset.Set[model.InstanceID]
	edges    int
}

func newCandidateGraph() *candidateGraph {
	return &candidateGraph{
		nodeSet:  mapset.NewThreadUnsafeSet[model.InstanceID](),
		parents:  make(map[model.InstanceID]mapset.Set[model.InstanceID]),
		children: make(map[model.InstanceID]mapset.Set[model.InstanceID]),
	}
}

func (g *candidateGraph) addEdge(a, b model.InstanceID) {
	if g.hasEdge(a, b) {
		return
	}
	g.nodeSet.Add(a)
	g.nodeSet.Add(b)
	if g.children[a] == nil {
		g.children[a] = mapset.NewThreadUnsafeSet[model.InstanceID]()
	}
	g.children[a].Add(b)
	if g.parents[b] == nil {
		g.parents[b] = mapset.NewThreadUnsafeSet[model.InstanceID]()
	}
	g.parents[b].Add(a)
	g.edges++
}

func (g *candidateGraph) hasEdge(from, to model.InstanceID) bool {
	c := g.children[from]
	return c != nil && c.Contains(to)
}

func (g *candidateGraph) removeEdge(from, to model.InstanceID) {
	if !g.hasEdge(from, to) {
		return
	}
	g.children[from].Remove(to)
	g.parents[to].Remove(from)
	g.edges--
}

// removeNode drops the node and every incident edge. The node stops showing
// up in nodes(); ids are never reused so no cleanup beyond the maps is
// needed.
func (g *candidateGraph) removeNode(id model.InstanceID) {
	if p := g.parents[id]; p != nil {
		for a := range p.Iter() {
			g.children[a].Remove(id)
			g.edges--
		}
		delete(g.parents, id)
	}
	if c := g.children[id]; c != nil {
		for b := range c.Iter() {
			g.parents[b].Remove(id)
			g.edges--
		}
		delete(g.children, id)
	}
	g.nodeSet.Remove(id)
}

func (g *candidateGraph) edgeCount() int {
	return g.edges
}

// nodes returns every node in ascending id order.
func (g *candidateGraph) nodes() []model.InstanceID {
	return sortedIDs(g.nodeSet)
}

// parentsOf returns b's candidates (instances that can replace b) ascending.
func (g *candidateGraph) parentsOf(b model.InstanceID) []model.InstanceID {
	return sortedIDs(g.parents[b])
}

// childrenOf returns the instances a can replace, ascending.
func (g *candidateGraph) childrenOf(a model.InstanceID) []model.InstanceID {
	return sortedIDs(g.children[a])
}

// cycles returns the strongly connected components with more than one
// member, found with Tarjan's algorithm. Self loops cannot occur because
// can-merge rejects identical ids. Each component is sorted ascending and
// the list is ordered by smallest member, so cycle breaking walks members
// the same way every run.
func (g *candidateGraph) cycles() [][]model.InstanceID {
	var (
		index   int
		stack   []model.InstanceID
		indices = make(map[model.InstanceID]int)
		lowlink = make(map[model.InstanceID]int)
		onStack = make(map[model.InstanceID]bool)
		sccs    [][]model.InstanceID
	)

	var strongConnect func(model.InstanceID)
	strongConnect = func(v model.InstanceID) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.childrenOf(v) {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []model.InstanceID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
				sccs = append(sccs, scc)
			}
		}
	}

	for _, v := range g.nodes() {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}

	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}

// inCycle reports whether m still has both a parent and a child inside the
// component. An earlier edge removal in the same pass can have already cut m
// out of the cycle.
func (g *candidateGraph) inCycle(m model.InstanceID, members mapset.Set[model.InstanceID]) bool {
	return g.firstInMembers(g.children[m], members) != 0 &&
		g.firstInMembers(g.parents[m], members) != 0
}

// firstIntraCycleEdge returns m's first edge that stays inside the
// component: the lowest-id child edge if any, else the lowest-id parent
// edge. Only this one edge is removed per member per pass.
func (g *candidateGraph) firstIntraCycleEdge(m model.InstanceID, members mapset.Set[model.InstanceID]) (from, to model.InstanceID, ok bool) {
	if c := g.firstInMembers(g.children[m], members); c != 0 {
		return m, c, true
	}
	if p := g.firstInMembers(g.parents[m], members); p != 0 {
		return p, m, true
	}
	return 0, 0, false
}

// firstInMembers returns the smallest id present in both sets, or zero.
// Instance ids start at one, so zero is free as a sentinel.
func (g *candidateGraph) firstInMembers(set, members mapset.Set[model.InstanceID]) model.InstanceID {
	if set == nil {
		return 0
	}
	var best model.InstanceID
	for id := range set.Iter() {
		if !members.Contains(id) {
			continue
		}
		if best == 0 || id < best {
			best = id
		}
	}
	return best
}

func sortedIDs(set mapset.Set[model.InstanceID]) []model.InstanceID {
	if set == nil {
		return nil
	}
	ids := set.ToSlice()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
