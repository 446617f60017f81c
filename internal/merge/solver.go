// Package merge implements the solver that deduplicates equivalent component
// instances.
//
// The solver builds a candidate graph over the transaction's instance pool
// (an edge a -> b means a can be used in place of b), resolves direct cycles
// by rank, immediately merges nodes with a single candidate, breaks larger
// cycles one edge at a time, and narrows multi-candidate nodes through a
// fixed sequence of disambiguation heuristics. It never fails: whatever stays
// ambiguous is left in place and surfaces later as an abstract-instance
// validation error in the orchestrator.
//
// All iteration is in ascending instance-id order so a given pool always
// merges the same way.
package merge

import (
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/plan"
)

// Solver computes and applies an obsolete-to-replacement mapping over the
// instances visible in one plan transaction.
type Solver struct {
	txn     *plan.Txn
	catalog *model.Catalog
	hints   map[model.InstanceID][]string
	logger  *slog.Logger
}

// Option configures a Solver.
type Option func(*Solver)

// WithHints supplies per-instance deployment name hints used by the
// name-hint disambiguation stage.
func WithHints(hints map[model.InstanceID][]string) Option {
	return func(s *Solver) { s.hints = hints }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// NewSolver builds a solver over the transaction.
func NewSolver(txn *plan.Txn, catalog *model.Catalog, opts ...Option) *Solver {
	s := &Solver{
		txn:     txn,
		catalog: catalog,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result reports what the solver merged. Replacements maps each removed
// instance to the one that took its place; chains (a into b, b into c) are
// possible and resolved by Resolve.
type Result struct {
	Replacements map[model.InstanceID]model.InstanceID
}

// Resolve follows replacement chains to the final survivor of an id. Returns
// the id itself when it was never merged away.
func (r *Result) Resolve(id model.InstanceID) model.InstanceID {
	for {
		next, ok := r.Replacements[id]
		if !ok {
			return id
		}
		id = next
	}
}

// Solve runs merge rounds until a fixpoint: a round that merges nothing.
// Each round rebuilds the candidate graph from the current pool, so merges
// enabled by earlier merges (shrunk composite child sets, retargeted
// connections) are picked up by the next round.
func (s *Solver) Solve() *Result {
	res := &Result{Replacements: make(map[model.InstanceID]model.InstanceID)}
	for round := 0; ; round++ {
		merged := s.solveRound(res)
		s.logger.Debug("merge round finished",
			slog.Int("round", round),
			slog.Int("merged", merged))
		if merged == 0 {
			break
		}
	}
	return res
}

func (s *Solver) solveRound(res *Result) int {
	g := s.buildCandidates(res)
	if g.edgeCount() == 0 {
		return 0
	}
	s.prepare(g)
	merged := s.drainSimple(g, res)
	merged += s.disambiguate(g, res)
	return merged
}

// buildCandidates buckets instances by the model they were required as and
// adds an edge for every ordered pair that can merge.
func (s *Solver) buildCandidates(res *Result) *candidateGraph {
	buckets := make(map[string][]model.InstanceID)
	for _, id := range s.txn.IDs() {
		in, _ := s.txn.Instance(id)
		buckets[mergeKey(in)] = append(buckets[mergeKey(in)], id)
	}

	g := newCandidateGraph()
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ids := buckets[k]
		for _, b := range ids {
			for _, a := range ids {
				if a == b {
					continue
				}
				ia, _ := s.txn.Instance(a)
				ib, _ := s.txn.Instance(b)
				if s.CanMerge(ia, ib, res.Replacements) {
					g.addEdge(a, b)
				}
			}
		}
	}
	return g
}

// prepare resolves direct two-node cycles by rank. Incomparable pairs stay
// in the graph for the cycle breaker.
func (s *Solver) prepare(g *candidateGraph) {
	type pair struct{ lo, hi model.InstanceID }
	seen := make(map[pair]struct{})
	for _, b := range g.nodes() {
		for _, a := range g.parentsOf(b) {
			if !g.hasEdge(b, a) {
				continue
			}
			p := pair{lo: a, hi: b}
			if a > b {
				p = pair{lo: b, hi: a}
			}
			if _, done := seen[p]; done {
				continue
			}
			seen[p] = struct{}{}

			ia, okA := s.txn.Instance(a)
			ib, okB := s.txn.Instance(b)
			if !okA || !okB {
				continue
			}
			switch Rank(ia, ib) {
			case PreferLeft:
				g.removeEdge(b, a)
			case PreferRight:
				g.removeEdge(a, b)
			}
		}
	}
}

// drainSimple merges every node with exactly one candidate, breaking cycles
// when that work runs dry, until neither makes progress.
func (s *Solver) drainSimple(g *candidateGraph, res *Result) int {
	merged := 0
	for {
		progress := false
		for _, b := range g.nodes() {
			parents := g.parentsOf(b)
			if len(parents) != 1 {
				continue
			}
			a := parents[0]
			if !s.recheckEdge(g, a, b, res) {
				progress = true
				continue
			}
			s.apply(a, b, res)
			g.removeNode(b)
			s.revalidateChildren(g, a, res)
			merged++
			progress = true
		}
		if progress {
			continue
		}
		if !s.breakCycles(g) {
			return merged
		}
	}
}

// recheckEdge re-validates a candidate edge against the live transaction
// state, pruning it when a previous merge invalidated it.
func (s *Solver) recheckEdge(g *candidateGraph, a, b model.InstanceID, res *Result) bool {
	ia, okA := s.txn.Instance(a)
	ib, okB := s.txn.Instance(b)
	if !okA || !okB || !s.CanMerge(ia, ib, res.Replacements) {
		g.removeEdge(a, b)
		return false
	}
	return true
}

// revalidateChildren prunes the surviving instance's remaining candidate
// edges that the merge just invalidated.
func (s *Solver) revalidateChildren(g *candidateGraph, a model.InstanceID, res *Result) {
	for _, c := range g.childrenOf(a) {
		s.recheckEdge(g, a, c, res)
	}
}

// breakCycles drops one candidate edge per still-cyclic member of every
// strongly connected component, in ascending member order. Members whose
// cycle was already broken by an earlier removal are skipped. Returns
// whether any edge was removed.
func (s *Solver) breakCycles(g *candidateGraph) bool {
	broke := false
	for _, scc := range g.cycles() {
		members := mapset.NewThreadUnsafeSet(scc...)
		for _, m := range scc {
			if !g.inCycle(m, members) {
				continue
			}
			if from, to, ok := g.firstIntraCycleEdge(m, members); ok {
				g.removeEdge(from, to)
				s.logger.Debug("broke merge cycle edge",
					slog.Uint64("from", uint64(from)),
					slog.Uint64("to", uint64(to)))
				broke = true
			}
		}
	}
	return broke
}

// disambiguate narrows multi-candidate nodes with the staged heuristics and
// merges the ones that reduce to a single candidate. Every successful merge
// re-drains simple merges, since redirecting references can create new
// single-candidate nodes.
func (s *Solver) disambiguate(g *candidateGraph, res *Result) int {
	merged := 0
	for changed := true; changed; {
		changed = false
		for _, b := range g.nodes() {
			if len(g.parentsOf(b)) < 2 {
				continue
			}
			winner, ok := s.narrow(g, b)
			if !ok {
				continue
			}
			if !s.recheckEdge(g, winner, b, res) {
				continue
			}
			s.apply(winner, b, res)
			g.removeNode(b)
			s.revalidateChildren(g, winner, res)
			merged++
			merged += s.drainSimple(g, res)
			changed = true
			break
		}
	}
	return merged
}

// apply merges b into a: b's outgoing connections move onto a, inbound
// connections and composite child lists are retargeted, and b leaves the
// transaction.
func (s *Solver) apply(aID, bID model.InstanceID, res *Result) {
	b, _ := s.txn.Instance(bID)
	bConns := make([]model.ConnSpec, len(b.Connections))
	copy(bConns, b.Connections)

	a, _ := s.txn.Modify(aID)
	for _, conn := range bConns {
		if conn.Sink == bID {
			conn.Sink = aID
		}
		if conn.Sink == aID {
			// A connection between the merging pair would become a self
			// edge; drop it.
			continue
		}
		if !a.HasConnection(conn) {
			a.Connections = append(a.Connections, conn)
		}
	}

	Redirect(s.txn, bID, aID)

	s.txn.Drop(bID)
	res.Replacements[bID] = aID
	s.logger.Debug("merged instance",
		slog.Uint64("obsolete", uint64(bID)),
		slog.Uint64("into", uint64(aID)),
		slog.String("name", b.Name))
}

// Redirect rewires every reference to old across the transaction to new:
// connection sinks and composite child lists, with would-be self edges and
// duplicates dropped. Old's own outbound connections are not touched; the
// caller moves those first when they should survive. The orchestrator uses
// the same rewiring when it resolves placeholders.
func Redirect(txn *plan.Txn, old, new model.InstanceID) {
	for _, id := range txn.IDs() {
		if id == old {
			continue
		}
		in, _ := txn.Instance(id)
		if !referencesInstance(in, old) {
			continue
		}
		mut, _ := txn.Modify(id)
		retargetConnections(mut, old, new)
		retargetChildren(mut, old, new)
	}
}

func referencesInstance(in *model.Instance, id model.InstanceID) bool {
	for _, c := range in.Connections {
		if c.Sink == id {
			return true
		}
	}
	return in.HasChild(id)
}

// retargetConnections rewrites connections sinking at old to sink at new,
// dropping duplicates and would-be self edges.
func retargetConnections(in *model.Instance, old, new model.InstanceID) {
	kept := in.Connections[:0]
	for _, c := range in.Connections {
		if c.Sink == old {
			c.Sink = new
		}
		if c.Sink == in.ID {
			continue
		}
		dup := false
		for _, have := range kept {
			if have == c {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	in.Connections = kept
}

// retargetChildren rewrites composite child references from old to new,
// dropping duplicates.
func retargetChildren(in *model.Instance, old, new model.InstanceID) {
	if !in.HasChild(old) {
		return
	}
	kept := in.Children[:0]
	for _, c := range in.Children {
		if c == old {
			c = new
		}
		dup := false
		for _, have := range kept {
			if have == c {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, c)
		}
	}
	in.Children = kept
}
