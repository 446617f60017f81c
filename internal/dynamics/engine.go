package dynamics

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cordage-io/cordage/internal/model"
)

// Engine propagates port dynamics across a set of concrete instances and
// derives connection policies from the result.
//
// The engine reads the instances and catalog it was built with and never
// mutates them; callers feed the derived policies back into the plan.
type Engine struct {
	catalog   *model.Catalog
	instances map[model.InstanceID]*model.Instance
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine builds a dynamics engine over the given instance pool view.
func NewEngine(catalog *model.Catalog, instances map[model.InstanceID]*model.Instance, opts ...Option) *Engine {
	e := &Engine{
		catalog:   catalog,
		instances: instances,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Result holds the computed dynamics. Tasks carries per-instance trigger
// accumulation, Outputs per-output-port dynamics. NotComputable lists output
// ports the fixpoint could not resolve; it is diagnostic, not an error.
type Result struct {
	Tasks         map[model.InstanceID]*PortDynamics
	Outputs       map[model.PortRef]*PortDynamics
	NotComputable []model.PortRef
}

// Connection names one directed dataflow pair between two ports.
type Connection struct {
	Src  model.PortRef
	Sink model.PortRef
}

// Compute runs the propagation fixpoint.
//
// Seeding: every instance with a periodic activation scheme contributes one
// baseline trigger (its own name, the period, one sample). Propagation then
// processes instances with the fewest unresolved upstream ports first:
// event-port dynamics merge into the task dynamics, triggered outputs derive
// their sample counts from the triggering inputs, on-update outputs copy the
// task dynamics. A full pass without progress stops the fixpoint and reports
// the remaining ports as not computable.
func (e *Engine) Compute() *Result {
	res := &Result{
		Tasks:   make(map[model.InstanceID]*PortDynamics),
		Outputs: make(map[model.PortRef]*PortDynamics),
	}

	upstream := e.upstreamIndex()
	taskResolved := make(map[model.InstanceID]bool)

	// Baseline triggers from the activation scheme.
	for _, id := range e.sortedIDs() {
		inst := e.instances[id]
		d := New(1)
		if act, ok := e.catalog.ActivationOf(inst.Model); ok && act.Kind == model.ActivationPeriodic {
			d.AddTrigger(Trigger{Name: inst.Name, Period: act.Period, SampleCount: 1})
		}
		res.Tasks[id] = d
	}

	for pass := 0; ; pass++ {
		progress := 0
		for _, id := range e.instancesByUnresolved(upstream, res) {
			inst := e.instances[id]

			if !taskResolved[id] {
				if !e.eventPortsResolved(inst, upstream, res) {
					continue
				}
				for _, port := range inst.Ports {
					if port.Dir != model.Input || !port.TriggersTask {
						continue
					}
					in := e.inputDynamics(model.PortRef{Instance: id, Port: port.Name}, upstream, res)
					res.Tasks[id].Merge(in)
				}
				taskResolved[id] = true
				progress++
			}

			for i := range inst.Ports {
				port := &inst.Ports[i]
				if port.Dir != model.Output {
					continue
				}
				ref := model.PortRef{Instance: id, Port: port.Name}
				if _, done := res.Outputs[ref]; done {
					continue
				}
				out, ok := e.computeOutput(inst, port, upstream, res)
				if !ok {
					continue
				}
				res.Outputs[ref] = out
				progress++
			}
		}
		if progress == 0 {
			break
		}
		e.logger.Debug("dynamics propagation pass",
			slog.Int("pass", pass),
			slog.Int("resolved", progress))
	}

	res.NotComputable = e.unresolvedOutputs(res)
	if len(res.NotComputable) > 0 {
		e.logger.Warn("port dynamics not computable",
			slog.Int("ports", len(res.NotComputable)))
	}
	return res
}

// computeOutput derives the dynamics of one output port once its
// prerequisites are known. Returns ok=false while they are not.
func (e *Engine) computeOutput(inst *model.Instance, port *model.PortSpec, upstream map[model.PortRef][]model.PortRef, res *Result) (*PortDynamics, bool) {
	// Both branches need the task dynamics: on-update outputs copy them,
	// triggered outputs read the task's minimal period.
	task, ok := res.Tasks[inst.ID]
	if !ok {
		return nil, false
	}
	if len(port.TriggeredBy) == 0 {
		out := task.Clone()
		out.SampleSize = sampleSize(port)
		return out, true
	}

	latency := e.triggerLatency(inst.Model)
	out := New(sampleSize(port))
	for _, inName := range port.TriggeredBy {
		inRef := model.PortRef{Instance: inst.ID, Port: inName}
		if !e.inputResolved(inRef, upstream, res) {
			return nil, false
		}
		up := e.inputDynamics(inRef, upstream, res)
		if up.Empty() {
			continue
		}
		inSpec, _ := inst.Port(inName)
		var samples int
		if inSpec != nil && inSpec.TriggersTask {
			samples = 1 + up.SampleCount(latency)
		} else {
			samples = up.SampleCount(task.MinimalPeriod() + latency)
		}
		out.AddTrigger(Trigger{
			Name:        fmt.Sprintf("%s.%s", inst.Name, inName),
			Period:      up.MinimalPeriod(),
			SampleCount: samples,
		})
	}
	if port.BurstSize > 0 {
		out.AddTrigger(Trigger{
			Name:        fmt.Sprintf("%s.%s.burst", inst.Name, port.Name),
			Period:      port.BurstPeriod,
			SampleCount: port.BurstSize,
		})
	}
	return out, true
}

// PolicyFor derives the connection policy one sink port requires from one
// source port. A sized buffer needs the source's computed dynamics; their
// absence is a hard error that aborts the resolve cycle.
func (e *Engine) PolicyFor(src, sink model.PortRef, res *Result) (model.Policy, error) {
	sinkInst, ok := e.instances[sink.Instance]
	if !ok {
		return model.Policy{}, &Error{Source: src, Sink: sink, Reason: "sink instance not in pool"}
	}
	sinkPort, ok := sinkInst.Port(sink.Port)
	if !ok {
		return model.Policy{}, &Error{Source: src, Sink: sink, Reason: "sink port not declared"}
	}

	var policy model.Policy
	switch sinkPort.Delivery {
	case model.DeliverSynchronous:
		policy = model.Data()
	case model.DeliverMinimal:
		policy = model.Buffer(1)
	default:
		srcDyn, ok := res.Outputs[src]
		if !ok || srcDyn.Empty() {
			return model.Policy{}, &Error{Source: src, Sink: sink, Reason: "source dynamics unknown"}
		}
		readingLatency := e.triggerLatency(sinkInst.Model)
		if !sinkPort.TriggersTask {
			if task := res.Tasks[sink.Instance]; task != nil {
				readingLatency += task.MinimalPeriod()
			}
		}
		policy = model.Buffer(srcDyn.QueueSize(readingLatency))
	}
	if sinkPort.RequiresReliable {
		policy.Reliable = true
	}
	return policy, nil
}

// DerivePolicies computes the policy of every declared connection across the
// pool. The first hard sizing failure aborts the computation.
func (e *Engine) DerivePolicies(res *Result) (map[Connection]model.Policy, error) {
	policies := make(map[Connection]model.Policy)
	for _, id := range e.sortedIDs() {
		inst := e.instances[id]
		for _, conn := range inst.Connections {
			c := Connection{
				Src:  model.PortRef{Instance: id, Port: conn.SrcPort},
				Sink: model.PortRef{Instance: conn.Sink, Port: conn.SinkPort},
			}
			p, err := e.PolicyFor(c.Src, c.Sink, res)
			if err != nil {
				return nil, err
			}
			policies[c] = p
		}
	}
	return policies, nil
}

// upstreamIndex maps every input port to the output ports feeding it.
func (e *Engine) upstreamIndex() map[model.PortRef][]model.PortRef {
	idx := make(map[model.PortRef][]model.PortRef)
	for _, id := range e.sortedIDs() {
		inst := e.instances[id]
		for _, conn := range inst.Connections {
			if _, ok := e.instances[conn.Sink]; !ok {
				continue
			}
			sink := model.PortRef{Instance: conn.Sink, Port: conn.SinkPort}
			idx[sink] = append(idx[sink], model.PortRef{Instance: id, Port: conn.SrcPort})
		}
	}
	return idx
}

func (e *Engine) inputResolved(in model.PortRef, upstream map[model.PortRef][]model.PortRef, res *Result) bool {
	for _, src := range upstream[in] {
		if _, ok := res.Outputs[src]; !ok {
			return false
		}
	}
	return true
}

func (e *Engine) inputDynamics(in model.PortRef, upstream map[model.PortRef][]model.PortRef, res *Result) *PortDynamics {
	merged := New(1)
	for _, src := range upstream[in] {
		merged.Merge(res.Outputs[src])
	}
	return merged
}

func (e *Engine) eventPortsResolved(inst *model.Instance, upstream map[model.PortRef][]model.PortRef, res *Result) bool {
	for _, port := range inst.Ports {
		if port.Dir != model.Input || !port.TriggersTask {
			continue
		}
		if !e.inputResolved(model.PortRef{Instance: inst.ID, Port: port.Name}, upstream, res) {
			return false
		}
	}
	return true
}

// instancesByUnresolved orders instances by how many of their upstream output
// ports are still unknown, fewest first, IDs ascending on ties.
func (e *Engine) instancesByUnresolved(upstream map[model.PortRef][]model.PortRef, res *Result) []model.InstanceID {
	ids := e.sortedIDs()
	counts := make(map[model.InstanceID]int, len(ids))
	for _, id := range ids {
		counts[id] = e.unresolvedUpstreamCount(e.instances[id], upstream, res)
	}
	sort.SliceStable(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] < counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

func (e *Engine) unresolvedUpstreamCount(inst *model.Instance, upstream map[model.PortRef][]model.PortRef, res *Result) int {
	pending := make(map[model.PortRef]struct{})
	need := func(in model.PortRef) {
		for _, src := range upstream[in] {
			if _, ok := res.Outputs[src]; !ok {
				pending[src] = struct{}{}
			}
		}
	}
	for _, port := range inst.Ports {
		if port.Dir == model.Input && port.TriggersTask {
			need(model.PortRef{Instance: inst.ID, Port: port.Name})
		}
		if port.Dir == model.Output {
			for _, in := range port.TriggeredBy {
				need(model.PortRef{Instance: inst.ID, Port: in})
			}
		}
	}
	return len(pending)
}

func (e *Engine) unresolvedOutputs(res *Result) []model.PortRef {
	var refs []model.PortRef
	for _, id := range e.sortedIDs() {
		inst := e.instances[id]
		for _, port := range inst.Ports {
			if port.Dir != model.Output {
				continue
			}
			ref := model.PortRef{Instance: id, Port: port.Name}
			if _, ok := res.Outputs[ref]; !ok {
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

func (e *Engine) sortedIDs() []model.InstanceID {
	ids := make([]model.InstanceID, 0, len(e.instances))
	for id := range e.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *Engine) triggerLatency(modelName string) (latency time.Duration) {
	if spec, ok := e.catalog.Model(modelName); ok {
		latency = spec.TriggerLatency
	}
	return latency
}

func sampleSize(port *model.PortSpec) int {
	if port.SampleSize > 0 {
		return port.SampleSize
	}
	return 1
}
