package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/dynamics"
	"github.com/cordage-io/cordage/internal/merge"
	"github.com/cordage-io/cordage/internal/model"
)

// run executes the pipeline in stage order. On success the cycle ends in
// StageCommitted. On error c.stage names the failing stage and the caller
// decides between rollback and halt.
func (c *cycle) run(ctx context.Context) error {
	steps := []struct {
		stage Stage
		fn    func(context.Context) error
	}{
		{StageSnapshot, c.snapshot},
		{StageApplyPending, c.applyPending},
		{StageInstantiate, c.instantiate},
		{StageMergeInitial, c.merge},
		{StageAttachBusses, c.attachBusses},
		{StageMergeBusses, c.merge},
		{StageGCNetwork, c.gc},
		{StageValidateNoAbstract, c.validateNoAbstract},
		{StageAllocate, c.allocate},
		{StageMergeDeployments, c.merge},
		{StageResolvePlaceholders, c.resolvePlaceholders},
		{StageValidateDeployed, c.validateDeployed},
		{StageComputePolicies, c.computePolicies},
		{StageGCFinal, c.gc},
		{StageCommit, c.commit},
	}
	for _, step := range steps {
		c.stage = step.stage
		if err := step.fn(ctx); err != nil {
			return err
		}
	}
	c.stage = StageCommitted
	return nil
}

func (c *cycle) traceStage(ctx context.Context, detail map[string]any) {
	c.eng.trace(ctx, c.token, c.stage.String(), "completed", detail)
}

// snapshot captures the rollback state and opens the transaction.
func (c *cycle) snapshot(ctx context.Context) error {
	c.poolSnap = c.eng.pool.Snapshot()
	c.mgrSnap = c.eng.manager.Snapshot()
	c.snapped = true
	c.txn = c.eng.pool.Begin()
	c.traceStage(ctx, map[string]any{"instances": c.eng.pool.Len()})
	return nil
}

// applyPending folds the drained removal batch and the goal set into the
// cycle. Force removals stop the bound instance through the transport right
// away; plain removals leave teardown to garbage collection.
//
// Unbinding is level-triggered against the goal set rather than against the
// batch: every binding whose requirement is no longer wanted goes, so a
// removal consumed by a cycle that later rolled back still heals here.
func (c *cycle) applyPending(ctx context.Context) error {
	forced := 0
	for _, rem := range c.removals {
		if !rem.Force {
			continue
		}
		id, bound := c.eng.pool.RequirementBinding(rem.Name)
		if !bound {
			continue
		}
		in, ok := c.txn.Instance(id)
		if !ok || in.State.Finished() || !in.Deployed() {
			continue
		}
		if err := c.eng.transport.Stop(ctx, id); err != nil {
			c.eng.logger.Warn("forced stop failed, treating instance as already down",
				slog.String("requirement", rem.Name),
				slog.Uint64("instance", uint64(id)),
				slog.Any("error", err))
		}
		mut, _ := c.txn.Modify(id)
		mut.State = model.StateFinishing
		forced++
	}

	unbound := 0
	for _, name := range sortedKeys(c.eng.pool.RequirementBindings()) {
		if _, want := c.eng.goal[name]; want {
			continue
		}
		c.eng.pool.BindRequirement(name, 0)
		unbound++
	}
	c.traceStage(ctx, map[string]any{
		"removals": len(c.removals),
		"forced":   forced,
		"unbound":  unbound,
	})
	return nil
}

// instantiate makes sure every goal requirement has a usable instance. A
// binding is reused when its instance survives in the transaction, was
// required as the same model and is not on its way out; everything else gets
// a fresh subtree. Direct selections become placeholders proxying the pinned
// instance.
func (c *cycle) instantiate(ctx context.Context) error {
	created, reused := 0, 0
	for _, name := range sortedKeys(c.eng.goal) {
		req := c.eng.goal[name]
		pinned, _ := model.ResolveSelection(req.Selection)

		if pinned != 0 {
			target, err := c.pinTarget(req, pinned)
			if err != nil {
				return err
			}
			if cur, ok := c.eng.pool.RequirementBinding(name); ok && cur == target {
				reused++
				continue
			}
			pid := c.txn.CreatePlaceholder(name, target)
			c.eng.pool.BindRequirement(name, pid)
			created++
			continue
		}

		if cur, ok := c.eng.pool.RequirementBinding(name); ok {
			if in, live := c.txn.Instance(cur); live &&
				in.RequiredModel == req.Model && !in.State.Finished() {
				if in.Permanent != req.Permanent {
					mut, _ := c.txn.Modify(cur)
					mut.Permanent = req.Permanent
				}
				c.addHints(cur, req.DeploymentHints())
				reused++
				continue
			}
		}

		id, err := c.instantiateByName(name, req.Model, req.Permanent)
		if err != nil {
			return err
		}
		c.eng.pool.BindRequirement(name, id)
		c.addHints(id, req.DeploymentHints())
		created++
	}
	c.traceStage(ctx, map[string]any{"created": created, "reused": reused})
	return nil
}

// pinTarget validates a direct selection and returns the pinned id.
func (c *cycle) pinTarget(req model.Requirement, pinned model.InstanceID) (model.InstanceID, error) {
	in, ok := c.txn.Instance(pinned)
	if !ok {
		return 0, &SpecificationError{
			Code:        CodeMissingSelection,
			Requirement: req.Name,
			Message:     fmt.Sprintf("pinned instance %d does not exist", pinned),
		}
	}
	if in.State.Finished() {
		return 0, &SpecificationError{
			Code:        CodeMissingSelection,
			Requirement: req.Name,
			Message:     fmt.Sprintf("pinned instance %d is stopping", pinned),
		}
	}
	return pinned, nil
}

// instantiateByName creates the instance tree for one required model or
// service name and returns its root id.
//
// Dispatch: a catalog model instantiates concretely. A service name with
// exactly one fulfilling model instantiates that model, keeping the service
// as the merge bucket. A service with several fulfillers produces an
// abstract instance so the merge solver can try to collapse it into an
// existing concrete one; survivors fail validation later. Anything else is
// a specification error.
func (c *cycle) instantiateByName(name, required string, permanent bool) (model.InstanceID, error) {
	if spec, ok := c.eng.catalog.Model(required); ok {
		return c.instantiateModel(name, required, spec, permanent)
	}
	fulfillers := c.fulfillingModels(required)
	switch len(fulfillers) {
	case 0:
		return 0, &SpecificationError{
			Code:        CodeMissingModel,
			Requirement: name,
			Message:     fmt.Sprintf("model or service %q is not in the catalog", required),
		}
	case 1:
		spec, _ := c.eng.catalog.Model(fulfillers[0])
		return c.instantiateModel(name, required, spec, permanent)
	default:
		id := c.txn.Create(&model.Instance{
			Name:          name,
			RequiredModel: required,
			Abstract:      true,
			Permanent:     permanent,
			State:         model.StatePending,
		})
		return id, nil
	}
}

// fulfillingModels lists the catalog models providing the named service, in
// ascending name order.
func (c *cycle) fulfillingModels(service string) []string {
	var out []string
	for _, name := range c.eng.catalog.ModelNames() {
		if c.eng.catalog.Fulfills(name, service) {
			out = append(out, name)
		}
	}
	return out
}

// instantiateModel creates one instance of a concrete model, expanding
// composite children recursively. Children are named "parent.child" and
// bucketed under their declared child model.
func (c *cycle) instantiateModel(name, required string, spec *model.ModelSpec, permanent bool) (model.InstanceID, error) {
	in := &model.Instance{
		Name:          name,
		Model:         spec.Name,
		RequiredModel: required,
		Permanent:     permanent,
		State:         model.StatePending,
		Ports:         clonePorts(spec.Ports),
	}
	id := c.txn.Create(in)

	if !spec.Composite {
		in.FullyInstantiated = true
		in.ConcreteServices = true
		return id, nil
	}

	in.Composite = true
	byChild := make(map[string]model.InstanceID, len(spec.Children))
	concrete := true
	for _, child := range spec.Children {
		cid, err := c.instantiateByName(name+"."+child.Name, child.Model, false)
		if err != nil {
			return 0, err
		}
		in.Children = append(in.Children, cid)
		byChild[child.Name] = cid
		if sub, _ := c.txn.Instance(cid); sub.Abstract || (sub.Composite && !sub.ConcreteServices) {
			concrete = false
		}
	}
	in.FullyInstantiated = true
	in.ConcreteServices = concrete

	for _, edge := range spec.Wiring {
		if err := c.wireChildren(name, byChild, edge); err != nil {
			return 0, err
		}
	}
	return id, nil
}

// wireChildren adds one declared composite-internal connection. Ports are
// checked only on concrete endpoints; an abstract child has no ports until
// merge resolves it.
func (c *cycle) wireChildren(owner string, byChild map[string]model.InstanceID, edge model.EdgeSpec) error {
	src, ok := byChild[edge.SrcChild]
	if !ok {
		return &SpecificationError{
			Code:        CodeBadWiring,
			Requirement: owner,
			Message:     fmt.Sprintf("wiring names unknown child %q", edge.SrcChild),
		}
	}
	sink, ok := byChild[edge.SinkChild]
	if !ok {
		return &SpecificationError{
			Code:        CodeBadWiring,
			Requirement: owner,
			Message:     fmt.Sprintf("wiring names unknown child %q", edge.SinkChild),
		}
	}
	if err := c.checkPort(owner, edge.SrcChild, src, edge.SrcPort, model.Output); err != nil {
		return err
	}
	if err := c.checkPort(owner, edge.SinkChild, sink, edge.SinkPort, model.Input); err != nil {
		return err
	}
	c.addConnection(src, edge.SrcPort, sink, edge.SinkPort)
	return nil
}

func (c *cycle) checkPort(owner, child string, id model.InstanceID, port string, dir model.Direction) error {
	in, _ := c.txn.Instance(id)
	if in.Abstract {
		return nil
	}
	spec, ok := in.Port(port)
	if !ok {
		return &SpecificationError{
			Code:        CodeBadWiring,
			Requirement: owner,
			Message:     fmt.Sprintf("child %q has no port %q", child, port),
		}
	}
	if spec.Dir != dir {
		return &SpecificationError{
			Code:        CodeBadWiring,
			Requirement: owner,
			Message:     fmt.Sprintf("port %q of child %q is not an %s port", port, child, dir),
		}
	}
	return nil
}

// addConnection records a declared connection on the source instance,
// skipping self edges and duplicates.
func (c *cycle) addConnection(src model.InstanceID, srcPort string, sink model.InstanceID, sinkPort string) bool {
	if src == sink {
		return false
	}
	mut, ok := c.txn.Modify(src)
	if !ok {
		return false
	}
	conn := model.ConnSpec{SrcPort: srcPort, Sink: sink, SinkPort: sinkPort}
	if mut.HasConnection(conn) {
		return false
	}
	mut.Connections = append(mut.Connections, conn)
	return true
}

// merge runs one solver pass and folds the outcome into the cycle: the
// replacement map grows, binding tables follow the survivors, and
// placeholders proxying a merged-away instance are repointed. Shared by the
// three merge stages.
func (c *cycle) merge(ctx context.Context) error {
	solver := merge.NewSolver(c.txn, c.eng.catalog,
		merge.WithHints(c.hints),
		merge.WithLogger(c.eng.logger))
	res := solver.Solve()
	if len(res.Replacements) > 0 {
		for from := range res.Replacements {
			c.noteDropped(from)
		}
		c.absorb(res.Replacements)
		c.eng.pool.Rebind(c.replacements)
		c.retargetProxies()
	}
	c.traceStage(ctx, map[string]any{"merged": len(res.Replacements)})
	return nil
}

// retargetProxies repoints placeholders whose proxied instance was merged
// away. The solver rewires connections and children; ProxyFor is orchestrator
// bookkeeping it does not know about.
func (c *cycle) retargetProxies() {
	for _, id := range c.txn.IDs() {
		in, _ := c.txn.Instance(id)
		if !in.Placeholder || in.ProxyFor == 0 {
			continue
		}
		if to := c.resolve(in.ProxyFor); to != in.ProxyFor {
			mut, _ := c.txn.Modify(id)
			mut.ProxyFor = to
		}
	}
}

// attachBusses splices every requirement with a Via onto its bus: the
// client's TX port feeds the bus input, the bus output feeds the client's
// RX port. Abstract endpoints are skipped; they either merge into concrete
// instances that were spliced through their own requirement, or fail the
// abstract-instance validation.
func (c *cycle) attachBusses(ctx context.Context) error {
	spliced := 0
	for _, name := range sortedKeys(c.eng.goal) {
		req := c.eng.goal[name]
		if req.Via == "" {
			continue
		}
		clientID, ok := c.eng.pool.RequirementBinding(name)
		if !ok {
			continue
		}
		busReq, err := c.busRequirement(name, req.Via)
		if err != nil {
			return err
		}
		busID, ok := c.eng.pool.RequirementBinding(busReq.Name)
		if !ok {
			continue
		}

		clientSpec, clientOK := c.modelOf(clientID)
		busSpec, busOK := c.modelOf(busID)
		if !clientOK || !busOK {
			c.eng.logger.Debug("bus attachment skipped, endpoint still abstract",
				slog.String("requirement", name),
				slog.String("bus", req.Via))
			continue
		}
		if clientSpec.BusClient == nil {
			return &SpecificationError{
				Code:        CodeBusRole,
				Requirement: name,
				Message:     fmt.Sprintf("model %q declares no bus client ports", clientSpec.Name),
			}
		}
		if busSpec.Bus == nil {
			return &SpecificationError{
				Code:        CodeBusRole,
				Requirement: busReq.Name,
				Message:     fmt.Sprintf("model %q is not a bus", busSpec.Name),
			}
		}
		if c.addConnection(clientID, clientSpec.BusClient.TX, busID, busSpec.Bus.In) {
			spliced++
		}
		if c.addConnection(busID, busSpec.Bus.Out, clientID, clientSpec.BusClient.RX) {
			spliced++
		}
	}
	c.traceStage(ctx, map[string]any{"spliced": spliced})
	return nil
}

// busRequirement finds the goal requirement providing the named bus, by
// requirement name, by model name, or by service fulfillment.
func (c *cycle) busRequirement(client, via string) (model.Requirement, error) {
	var found []model.Requirement
	for _, name := range sortedKeys(c.eng.goal) {
		if name == client {
			continue
		}
		r := c.eng.goal[name]
		if r.Name == via || r.Model == via || c.eng.catalog.Fulfills(r.Model, via) {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return model.Requirement{}, &SpecificationError{
			Code:        CodeBusMissing,
			Requirement: client,
			Message:     fmt.Sprintf("no requirement provides bus %q", via),
		}
	default:
		return model.Requirement{}, &SpecificationError{
			Code:        CodeBusAmbiguous,
			Requirement: client,
			Message:     fmt.Sprintf("%d requirements provide bus %q", len(found), via),
		}
	}
}

// modelOf returns the catalog spec behind an instance, looking through
// placeholders to their proxied target. ok is false for abstract instances.
func (c *cycle) modelOf(id model.InstanceID) (*model.ModelSpec, bool) {
	in, ok := c.txn.Instance(id)
	if !ok {
		return nil, false
	}
	if in.Placeholder {
		target, ok := c.txn.Instance(c.resolve(in.ProxyFor))
		if !ok {
			return nil, false
		}
		in = target
	}
	if in.Model == "" {
		return nil, false
	}
	return c.eng.catalog.Model(in.Model)
}

// gc sweeps instances unreachable from the binding roots. Live casualties
// are queued for a post-commit stop; a rolled back cycle must not have
// touched the transport. Runs twice: once after the network settles, once
// after placeholder resolution.
func (c *cycle) gc(ctx context.Context) error {
	dropped, stopped := c.txn.GC()
	c.noteDropped(dropped...)
	c.stops = append(c.stops, stopped...)
	c.traceStage(ctx, map[string]any{
		"dropped":      len(dropped),
		"stops-queued": len(stopped),
	})
	return nil
}

// validateNoAbstract fails the cycle when instances without a concrete model
// survived merging. The error lists the exact survivors.
func (c *cycle) validateNoAbstract(ctx context.Context) error {
	var unresolved []UnresolvedInstance
	for _, id := range c.txn.IDs() {
		in, _ := c.txn.Instance(id)
		if !in.Abstract || in.Placeholder {
			continue
		}
		unresolved = append(unresolved, UnresolvedInstance{
			Instance: id,
			Name:     in.Name,
			Required: in.RequiredModel,
		})
	}
	if len(unresolved) > 0 {
		return newAllocationError(unresolved)
	}
	c.traceStage(ctx, nil)
	return nil
}

// allocate binds concrete instances to deployments, hints narrowing the
// choice.
func (c *cycle) allocate(ctx context.Context) error {
	if err := c.eng.manager.Allocate(c.txn, c.hints); err != nil {
		return err
	}
	deployed := 0
	for _, id := range c.txn.IDs() {
		if in, _ := c.txn.Instance(id); in.Deployed() {
			deployed++
		}
	}
	c.traceStage(ctx, map[string]any{"deployed": deployed})
	return nil
}

// resolvePlaceholders replaces every placeholder with the instance it
// proxies: outbound connections move to the target, inbound references are
// rewired, bindings follow, and the placeholder leaves the transaction. A
// placeholder surviving past this stage would fail the commit invariant.
func (c *cycle) resolvePlaceholders(ctx context.Context) error {
	resolved := 0
	for _, id := range c.txn.IDs() {
		in, _ := c.txn.Instance(id)
		if !in.Placeholder {
			continue
		}
		target := c.resolve(in.ProxyFor)
		if !c.txn.Exists(target) {
			return &SpecificationError{
				Code:        CodeMissingSelection,
				Requirement: in.Name,
				Message:     fmt.Sprintf("pinned instance %d vanished during the cycle", in.ProxyFor),
			}
		}
		if len(in.Connections) > 0 {
			conns := append([]model.ConnSpec(nil), in.Connections...)
			mut, _ := c.txn.Modify(target)
			for _, conn := range conns {
				if conn.Sink == id {
					conn.Sink = target
				}
				if conn.Sink == target {
					continue
				}
				if !mut.HasConnection(conn) {
					mut.Connections = append(mut.Connections, conn)
				}
			}
		}
		merge.Redirect(c.txn, id, target)
		c.replacements[id] = target
		c.txn.Drop(id)
		c.noteDropped(id)
		resolved++
	}
	if resolved > 0 {
		c.eng.pool.Rebind(c.replacements)
	}
	c.traceStage(ctx, map[string]any{"resolved": resolved})
	return nil
}

// validateDeployed is the last structural gate before policies: every
// surviving task instance that is not on its way out must hold a deployment
// binding.
func (c *cycle) validateDeployed(ctx context.Context) error {
	var missing []deploy.MissingDeployment
	for _, id := range c.txn.IDs() {
		in, _ := c.txn.Instance(id)
		if in.Composite || in.State.Finished() || in.Deployed() {
			continue
		}
		missing = append(missing, deploy.MissingDeployment{
			Instance: id,
			Name:     in.Name,
			Model:    in.Model,
		})
	}
	if len(missing) > 0 {
		return &deploy.MissingDeploymentError{Missing: missing}
	}
	c.traceStage(ctx, nil)
	return nil
}

// computePolicies runs the dynamics fixpoint over the settled network and
// writes the derived policy onto every declared connection.
func (c *cycle) computePolicies(ctx context.Context) error {
	dyn := dynamics.NewEngine(c.eng.catalog, c.txn.Instances(),
		dynamics.WithLogger(c.eng.logger))
	res := dyn.Compute()
	policies, err := dyn.DerivePolicies(res)
	if err != nil {
		return err
	}

	updated := 0
	for _, id := range c.txn.IDs() {
		in, _ := c.txn.Instance(id)
		if !c.policiesChanged(id, in, policies) {
			continue
		}
		mut, _ := c.txn.Modify(id)
		for i := range mut.Connections {
			conn := &mut.Connections[i]
			key := dynamics.Connection{
				Src:  model.PortRef{Instance: id, Port: conn.SrcPort},
				Sink: model.PortRef{Instance: conn.Sink, Port: conn.SinkPort},
			}
			if pol, ok := policies[key]; ok {
				conn.Policy = pol
			}
		}
		updated++
	}
	c.traceStage(ctx, map[string]any{
		"connections":    len(policies),
		"updated":        updated,
		"not-computable": len(res.NotComputable),
	})
	return nil
}

// policiesChanged reports whether any of the instance's connections needs a
// policy write, avoiding overlay copies for untouched instances.
func (c *cycle) policiesChanged(id model.InstanceID, in *model.Instance, policies map[dynamics.Connection]model.Policy) bool {
	for _, conn := range in.Connections {
		key := dynamics.Connection{
			Src:  model.PortRef{Instance: id, Port: conn.SrcPort},
			Sink: model.PortRef{Instance: conn.Sink, Port: conn.SinkPort},
		}
		if pol, ok := policies[key]; ok && pol != conn.Policy {
			return true
		}
	}
	return false
}

// commit folds the overlay into the pool. A commit invariant violation means
// the pipeline let inconsistent state through; there is nothing safe to roll
// back to, so the error is unrecoverable.
func (c *cycle) commit(ctx context.Context) error {
	if err := c.txn.Commit(); err != nil {
		return &UnrecoverableError{Stage: StageCommit, Err: err}
	}
	c.traceStage(ctx, map[string]any{
		"instances": c.eng.pool.Len(),
		"dropped":   len(dedupIDs(c.dropped)),
	})
	return nil
}

func (c *cycle) addHints(id model.InstanceID, hints []string) {
	if len(hints) == 0 {
		return
	}
	c.hints[id] = append(c.hints[id], hints...)
}

func clonePorts(ports []model.PortSpec) []model.PortSpec {
	if ports == nil {
		return nil
	}
	out := make([]model.PortSpec, len(ports))
	copy(out, ports)
	for i := range out {
		if tb := ports[i].TriggeredBy; tb != nil {
			out[i].TriggeredBy = append([]string(nil), tb...)
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupIDs(ids []model.InstanceID) []model.InstanceID {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[model.InstanceID]struct{}, len(ids))
	out := make([]model.InstanceID, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
