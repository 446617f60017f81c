package merge

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
)

// narrow reduces a multi-candidate node's parent set with the staged
// heuristics, in order: rank dominance, dependency reachability, deployment
// name hints, connection-graph locality. A stage that cannot decide leaves
// the set for the next one; a candidate a stage eliminates is gone for good.
// Reports the winner only when the stages cut the set down to exactly one.
func (s *Solver) narrow(g *candidateGraph, b model.InstanceID) (model.InstanceID, bool) {
	cands := g.parentsOf(b)
	stages := []func([]model.InstanceID, model.InstanceID) []model.InstanceID{
		s.dropDominated,
		s.dropReachable,
		s.filterByHints,
		s.filterByLocality,
	}
	for _, stage := range stages {
		if len(cands) < 2 {
			break
		}
		cands = stage(cands, b)
	}
	if len(cands) == 1 {
		return cands[0], true
	}
	return 0, false
}

// dropDominated removes candidates strictly worse than another candidate
// under the rank table. Rank is a preorder over boolean predicates, so the
// maximal class survives and the set cannot empty.
func (s *Solver) dropDominated(cands []model.InstanceID, _ model.InstanceID) []model.InstanceID {
	kept := make([]model.InstanceID, 0, len(cands))
	for _, x := range cands {
		ix, ok := s.txn.Instance(x)
		if !ok {
			continue
		}
		dominated := false
		for _, y := range cands {
			if y == x {
				continue
			}
			iy, ok := s.txn.Instance(y)
			if !ok {
				continue
			}
			if Rank(iy, ix) == PreferLeft {
				dominated = true
				break
			}
		}
		if !dominated {
			kept = append(kept, x)
		}
	}
	if len(kept) == 0 {
		return cands
	}
	return kept
}

// dropReachable removes a candidate when another remaining candidate is its
// ancestor through composite membership or declared connections: the
// ancestor already depends on it, so merging into the descendant would fold
// a dependency onto itself. Candidates are scanned ascending against the
// shrinking set, so a mutually reachable pair keeps its later member and
// the set cannot empty.
func (s *Solver) dropReachable(cands []model.InstanceID, _ model.InstanceID) []model.InstanceID {
	rev := s.reverseDeps()
	remaining := mapset.NewThreadUnsafeSet(cands...)
	for _, x := range cands {
		anc := ancestors(rev, x)
		for _, y := range cands {
			if y == x || !remaining.Contains(y) {
				continue
			}
			if anc.Contains(y) {
				remaining.Remove(x)
				break
			}
		}
	}
	return sortedIDs(remaining)
}

// filterByHints keeps the candidates whose name or host matches one of the
// node's deployment hints. Without hints, or without a single match, the
// stage leaves the set alone.
func (s *Solver) filterByHints(cands []model.InstanceID, b model.InstanceID) []model.InstanceID {
	hints := s.hints[b]
	if len(hints) == 0 {
		return cands
	}
	matched := make([]model.InstanceID, 0, len(cands))
	for _, id := range cands {
		in, ok := s.txn.Instance(id)
		if !ok {
			continue
		}
		for _, h := range hints {
			if in.Name == h || in.Host == h {
				matched = append(matched, id)
				break
			}
		}
	}
	if len(matched) == 0 {
		return cands
	}
	return matched
}

// filterByLocality picks the candidate with the smallest connection-graph
// distance to the node's deployed neighbours. Only a unique minimum
// decides; ties or no reachable candidate leave the set alone.
func (s *Solver) filterByLocality(cands []model.InstanceID, b model.InstanceID) []model.InstanceID {
	adj := s.undirectedConns()

	var sources []model.InstanceID
	for _, n := range adj[b] {
		if in, ok := s.txn.Instance(n); ok && in.Deployed() {
			sources = append(sources, n)
		}
	}
	if len(sources) == 0 {
		return cands
	}

	dist := make(map[model.InstanceID]int)
	queue := make([]model.InstanceID, 0, len(sources))
	for _, src := range sources {
		if _, seen := dist[src]; !seen {
			dist[src] = 0
			queue = append(queue, src)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, n := range adj[cur] {
			if _, seen := dist[n]; !seen {
				dist[n] = dist[cur] + 1
				queue = append(queue, n)
			}
		}
	}

	best := -1
	var winner model.InstanceID
	unique := false
	for _, id := range cands {
		d, ok := dist[id]
		if !ok {
			continue
		}
		switch {
		case best == -1 || d < best:
			best, winner, unique = d, id, true
		case d == best:
			unique = false
		}
	}
	if !unique {
		return cands
	}
	return []model.InstanceID{winner}
}

// reverseDeps builds child-to-parents adjacency over composite membership
// and declared connections for the whole pool.
func (s *Solver) reverseDeps() map[model.InstanceID][]model.InstanceID {
	rev := make(map[model.InstanceID][]model.InstanceID)
	for _, id := range s.txn.IDs() {
		in, _ := s.txn.Instance(id)
		for _, c := range in.Children {
			rev[c] = append(rev[c], id)
		}
		for _, conn := range in.Connections {
			rev[conn.Sink] = append(rev[conn.Sink], id)
		}
	}
	return rev
}

// undirectedConns builds the symmetric connection adjacency for the pool.
func (s *Solver) undirectedConns() map[model.InstanceID][]model.InstanceID {
	adj := make(map[model.InstanceID][]model.InstanceID)
	for _, id := range s.txn.IDs() {
		in, _ := s.txn.Instance(id)
		for _, conn := range in.Connections {
			adj[id] = append(adj[id], conn.Sink)
			adj[conn.Sink] = append(adj[conn.Sink], id)
		}
	}
	return adj
}

func ancestors(rev map[model.InstanceID][]model.InstanceID, id model.InstanceID) mapset.Set[model.InstanceID] {
	seen := mapset.NewThreadUnsafeSet[model.InstanceID]()
	queue := []model.InstanceID{id}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, p := range rev[cur] {
			if seen.Add(p) {
				queue = append(queue, p)
			}
		}
	}
	return seen
}
