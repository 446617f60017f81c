package merge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cordage-io/cordage/internal/model"
)

// navCatalog registers the nav service with two concrete fulfillers plus the
// helper models the locality fixtures hang connections on.
func navCatalog(t *testing.T) *model.Catalog {
	t.Helper()
	return testCatalog(t,
		&model.ModelSpec{Name: "gps-nav", Fulfills: []string{"nav"}},
		&model.ModelSpec{Name: "visual-nav", Fulfills: []string{"nav"}},
		&model.ModelSpec{Name: "fuse"},
		&model.ModelSpec{Name: "relay"},
	)
}

func liveNav(name, m string, dep model.DeploymentID, host string) *model.Instance {
	return &model.Instance{
		Name: name, Model: m, RequiredModel: "nav",
		Deployment: dep, Host: host, State: model.StateRunning,
	}
}

func abstractNav(name string) *model.Instance {
	return &model.Instance{Name: name, Model: "nav", RequiredModel: "nav", Abstract: true}
}

// The candidate with concrete services outranks the other, so dominance
// alone resolves the ambiguity.
func TestNarrowRankDominance(t *testing.T) {
	cat := navCatalog(t)
	a := liveNav("gps", "gps-nav", 1, "h1")
	a.ConcreteServices = true
	pool := seedPool(t, a, liveNav("vis", "visual-nav", 2, "h2"), abstractNav("want-nav"))

	txn := pool.Begin()
	res := NewSolver(txn, cat).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{3: 1}, res.Replacements)
}

// When one candidate already feeds the other, the downstream one is
// dropped: merging into it would fold a dependency onto itself.
func TestNarrowReachability(t *testing.T) {
	cat := navCatalog(t)
	up := liveNav("up", "gps-nav", 1, "h1")
	up.Connections = []model.ConnSpec{{SrcPort: "pose", Sink: 2, SinkPort: "seed"}}
	pool := seedPool(t, up, liveNav("down", "visual-nav", 2, "h2"), abstractNav("want-nav"))

	txn := pool.Begin()
	res := NewSolver(txn, cat).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{3: 1}, res.Replacements)
}

// A candidate eliminated by the reachability filter stays eliminated even
// when a later heuristic would have picked it.
func TestNarrowReachabilityEliminationIsFinal(t *testing.T) {
	cat := navCatalog(t)
	up := liveNav("up", "gps-nav", 1, "h1")
	up.Connections = []model.ConnSpec{{SrcPort: "pose", Sink: 2, SinkPort: "seed"}}
	pool := seedPool(t, up, liveNav("down", "visual-nav", 2, "h2"), abstractNav("want-nav"))

	txn := pool.Begin()
	res := NewSolver(txn, cat,
		WithHints(map[model.InstanceID][]string{3: {"down"}}),
	).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{3: 1}, res.Replacements,
		"the hint names the eliminated candidate and must not resurrect it")
}

// localityPool wires the ambiguous node to a deployed fusion stage that sits
// one hop from the gps candidate and two hops from the visual one.
//
//	want(5) -- fusion(3) -- gps(1)
//	                   \-- relay(4) -- visual(2)
func localityPool(t *testing.T) []*model.Instance {
	t.Helper()
	gps := liveNav("left-cam", "gps-nav", 1, "h1")
	vis := liveNav("right-cam", "visual-nav", 2, "h2")
	fusion := &model.Instance{
		Name: "fusion", Model: "fuse", Deployment: 3, Host: "h3", State: model.StateRunning,
		Connections: []model.ConnSpec{
			{SrcPort: "f1", Sink: 1, SinkPort: "p"},
			{SrcPort: "f2", Sink: 4, SinkPort: "p"},
		},
	}
	relay := &model.Instance{
		Name: "relay", Model: "relay",
		Connections: []model.ConnSpec{{SrcPort: "r", Sink: 2, SinkPort: "p"}},
	}
	want := abstractNav("want-nav")
	want.Connections = []model.ConnSpec{{SrcPort: "sel", Sink: 3, SinkPort: "in"}}
	return []*model.Instance{gps, vis, fusion, relay, want}
}

// Name hints are consulted before locality: the hint picks the candidate
// locality would have rejected.
func TestNarrowHintsBeatLocality(t *testing.T) {
	cat := navCatalog(t)
	pool := seedPool(t, localityPool(t)...)

	txn := pool.Begin()
	res := NewSolver(txn, cat,
		WithHints(map[model.InstanceID][]string{5: {"right-cam"}}),
	).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{5: 2}, res.Replacements)
}

// Without hints the unique minimum connection-graph distance decides.
func TestNarrowLocality(t *testing.T) {
	cat := navCatalog(t)
	pool := seedPool(t, localityPool(t)...)

	txn := pool.Begin()
	res := NewSolver(txn, cat).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{5: 1}, res.Replacements)
}

// Hints matching no candidate leave the stage undecided instead of emptying
// the set.
func TestNarrowUnmatchedHintsAreIgnored(t *testing.T) {
	cat := navCatalog(t)
	pool := seedPool(t, localityPool(t)...)

	txn := pool.Begin()
	res := NewSolver(txn, cat,
		WithHints(map[model.InstanceID][]string{5: {"no-such-deployment"}}),
	).Solve()
	assert.Equal(t, map[model.InstanceID]model.InstanceID{5: 1}, res.Replacements,
		"locality still resolves after the hint stage passes")
}

// With every heuristic exhausted the node stays unmerged; the solver is
// best effort and must still terminate.
func TestNarrowAmbiguityLeavesNodeUnmerged(t *testing.T) {
	cat := navCatalog(t)
	pool := seedPool(t,
		liveNav("gps", "gps-nav", 1, "h1"),
		liveNav("vis", "visual-nav", 2, "h2"),
		abstractNav("want-nav"),
	)

	txn := pool.Begin()
	res := NewSolver(txn, cat).Solve()
	assert.Empty(t, res.Replacements)
	require.Len(t, txn.IDs(), 3)
}
