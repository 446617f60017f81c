package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cordage-io/cordage/internal/engine"
	"github.com/cordage-io/cordage/internal/graph"
	"github.com/cordage-io/cordage/internal/model"
)

// evaluateExpect checks a resolve step's cycle report against its expect
// block. Failures land in the result; the scenario keeps running so one bad
// step surfaces every downstream consequence in a single report.
func (h *Harness) evaluateExpect(idx int, e *Expect, cycle *engine.CycleReport, err error, result *Result) {
	if e == nil {
		if err != nil {
			result.AddError(fmt.Sprintf("steps[%d]: resolve errored: %v", idx, err))
		}
		return
	}

	outcome := renderOutcome(cycle, err)
	if outcome != e.Outcome {
		result.AddError(fmt.Sprintf("steps[%d]: outcome %q, want %q", idx, outcome, e.Outcome))
	}

	if e.Error != "" {
		got := err
		if got == nil && cycle != nil {
			got = cycle.Err
		}
		switch {
		case got == nil:
			result.AddError(fmt.Sprintf("steps[%d]: no error, want one containing %q", idx, e.Error))
		case !strings.Contains(got.Error(), e.Error):
			result.AddError(fmt.Sprintf("steps[%d]: error %q does not contain %q", idx, got, e.Error))
		}
	}

	if e.NewPairs != nil || e.RemovedPairs != nil {
		if cycle == nil || cycle.Changes == nil {
			result.AddError(fmt.Sprintf("steps[%d]: no change-set to check pair counts against", idx))
		} else {
			added, removed := cycle.Changes.PairCounts()
			if e.NewPairs != nil && added != *e.NewPairs {
				result.AddError(fmt.Sprintf("steps[%d]: %d new pairs, want %d", idx, added, *e.NewPairs))
			}
			if e.RemovedPairs != nil && removed != *e.RemovedPairs {
				result.AddError(fmt.Sprintf("steps[%d]: %d removed pairs, want %d", idx, removed, *e.RemovedPairs))
			}
		}
	}

	if len(e.Restarting) > 0 {
		var got []string
		if cycle != nil {
			for _, id := range cycle.Restarting {
				got = append(got, h.instanceName(id))
			}
		}
		want := append([]string(nil), e.Restarting...)
		sort.Strings(got)
		sort.Strings(want)
		if !stringSlicesEqual(got, want) {
			result.AddError(fmt.Sprintf("steps[%d]: restarting %v, want %v", idx, got, want))
		}
	}
}

// evaluateAssertions checks the final world: committed pool, Actual graph,
// simulated transport, restart barriers and the journal trace.
func (h *Harness) evaluateAssertions(result *Result, assertions []Assertion) {
	pool := h.eng.Pool()
	_, actual := h.eng.Reconciler().Snapshot()

	for i, a := range assertions {
		fail := func(format string, args ...any) {
			result.AddError(fmt.Sprintf("assertions[%d] (%s): %s", i, a.Type, fmt.Sprintf(format, args...)))
		}

		switch a.Type {
		case AssertInstanceCount:
			if pool.Len() != a.Count {
				fail("%d instances, want %d", pool.Len(), a.Count)
			}

		case AssertInstance:
			in, ok := h.instanceByName(a.Name)
			if !ok {
				fail("instance %q not in the pool", a.Name)
				continue
			}
			if a.Model != "" && in.Model != a.Model {
				fail("instance %q runs model %q, want %q", a.Name, in.Model, a.Model)
			}
			if a.Host != "" && in.Host != a.Host {
				fail("instance %q on host %q, want %q", a.Name, in.Host, a.Host)
			}
			if a.State != "" && in.State.String() != a.State {
				fail("instance %q in state %q, want %q", a.Name, in.State, a.State)
			}

		case AssertNoInstance:
			if _, ok := h.instanceByName(a.Name); ok {
				fail("instance %q is still in the pool", a.Name)
			}

		case AssertBoundSame:
			first, bound := pool.RequirementBinding(a.Requirements[0])
			if !bound {
				fail("requirement %q is unbound", a.Requirements[0])
				continue
			}
			for _, req := range a.Requirements[1:] {
				id, bound := pool.RequirementBinding(req)
				switch {
				case !bound:
					fail("requirement %q is unbound", req)
				case id != first:
					fail("requirement %q bound to %q, %q bound to %q",
						a.Requirements[0], h.instanceName(first), req, h.instanceName(id))
				}
			}

		case AssertConnection:
			src, sink, ok := h.assertedEndpoints(a, fail)
			if !ok {
				continue
			}
			policy, live := actual.Policy(
				graph.EdgeKey{Src: src.Instance, Sink: sink.Instance},
				graph.PortPair{SrcPort: src.Port, SinkPort: sink.Port})
			if !live {
				fail("no actual connection %s -> %s", a.Src, a.Sink)
				continue
			}
			if a.Policy != "" && policy.String() != a.Policy {
				fail("connection %s -> %s has policy %s, want %s", a.Src, a.Sink, policy, a.Policy)
			}
			if _, onWire := h.sim.Connection(src, sink); !onWire {
				fail("connection %s -> %s is in the actual graph but not on the transport", a.Src, a.Sink)
			}

		case AssertNoConnection:
			src, sink, ok := h.assertedEndpoints(a, fail)
			if !ok {
				continue
			}
			if _, live := actual.Policy(
				graph.EdgeKey{Src: src.Instance, Sink: sink.Instance},
				graph.PortPair{SrcPort: src.Port, SinkPort: sink.Port}); live {
				fail("connection %s -> %s is still live", a.Src, a.Sink)
			}

		case AssertActualCount:
			if n := actual.PairCount(); n != a.Count {
				fail("%d live port pairs, want %d", n, a.Count)
			}

		case AssertTraceContains:
			if h.countTrace(result, a.Stage, a.Event) == 0 {
				fail("no trace event with stage %q event %q", a.Stage, a.Event)
			}

		case AssertTraceCount:
			if n := h.countTrace(result, a.Stage, a.Event); n != a.Count {
				fail("%d trace events with stage %q event %q, want %d", n, a.Stage, a.Event, a.Count)
			}

		case AssertRestartsPending:
			if n := h.eng.Manager().PendingRestarts(); n != a.Count {
				fail("%d restart barriers pending, want %d", n, a.Count)
			}
		}
	}
}

// assertedEndpoints resolves a connection assertion's port references
// against the final pool.
func (h *Harness) assertedEndpoints(a Assertion, fail func(string, ...any)) (src, sink model.PortRef, ok bool) {
	srcName, srcPort := splitPortRef(a.Src)
	sinkName, sinkPort := splitPortRef(a.Sink)

	from, okSrc := h.instanceByName(srcName)
	if !okSrc {
		fail("source instance %q not in the pool", srcName)
		return model.PortRef{}, model.PortRef{}, false
	}
	to, okSink := h.instanceByName(sinkName)
	if !okSink {
		fail("sink instance %q not in the pool", sinkName)
		return model.PortRef{}, model.PortRef{}, false
	}
	return model.PortRef{Instance: from.ID, Port: srcPort},
		model.PortRef{Instance: to.ID, Port: sinkPort}, true
}

// countTrace counts trace events matching the stage and event filters.
// Empty filters match everything.
func (h *Harness) countTrace(result *Result, stage, event string) int {
	n := 0
	for _, ev := range result.Trace {
		if stage != "" && ev.Stage != stage {
			continue
		}
		if event != "" && ev.Event != event {
			continue
		}
		n++
	}
	return n
}

// instanceByName scans the committed pool for a name. Names are unique per
// plan, so the first hit wins.
func (h *Harness) instanceByName(name string) (*model.Instance, bool) {
	pool := h.eng.Pool()
	for _, id := range pool.IDs() {
		in, ok := pool.Instance(id)
		if ok && in.Name == name {
			return in, true
		}
	}
	return nil, false
}

// instanceName renders an id as its pool name, falling back to the numeric
// id for instances that already left the plan.
func (h *Harness) instanceName(id model.InstanceID) string {
	if in, ok := h.eng.Pool().Instance(id); ok {
		return in.Name
	}
	return fmt.Sprintf("#%d", id)
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
