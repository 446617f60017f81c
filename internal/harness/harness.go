package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/cordage-io/cordage/internal/compiler"
	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/engine"
	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/store"
	"github.com/cordage-io/cordage/internal/testutil"
)

// Harness executes one scenario against a real engine: fresh in-memory
// journal, simulated transport, deterministic cycle tokens. Nothing is
// mocked below the transport boundary, so a passing scenario exercises the
// same pipeline a resident engine runs.
type Harness struct {
	scenario *Scenario

	st    *store.Store
	sim   *deploy.SimTransport
	eng   *engine.Engine
	clock *testutil.DeterministicClock

	catalog      *model.Catalog
	requirements []model.Requirement

	// names maps instance names to ids for seeded instances; assertion
	// evaluation rebuilds its own view from the final pool.
	names map[string]model.InstanceID
}

// Run executes a scenario and returns its result. A returned error means
// the scenario could not run at all (bad stack, bad seed); expectation and
// assertion failures land in the result instead.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory store: %w", err)
	}
	defer st.Close()

	catalog, requirements, err := loadStack(scenario.Stack)
	if err != nil {
		return nil, fmt.Errorf("load stack: %w", err)
	}

	base := scenario.TokenBase
	if base == "" {
		base = scenario.Name
	}

	sim := deploy.NewSimTransport()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := engine.New(catalog, sim,
		engine.WithStore(st),
		engine.WithLogger(logger),
		engine.WithTokenGenerator(testutil.NewCycleTokens(base)))

	h := &Harness{
		scenario:     scenario,
		st:           st,
		sim:          sim,
		eng:          eng,
		clock:        testutil.NewDeterministicClock(),
		catalog:      catalog,
		requirements: requirements,
		names:        make(map[string]model.InstanceID),
	}

	ctx := context.Background()
	if scenario.Seed != nil {
		if err := h.seed(scenario.Seed); err != nil {
			return nil, fmt.Errorf("seed: %w", err)
		}
	}

	result := NewResult()
	// The full profile is the initial goal; a requirements step narrows it.
	h.eng.Enqueue(engine.RequirementsEvent(h.requirements))

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, i, step, result); err != nil {
			return nil, err
		}
	}

	trace, err := st.ReadTrace(ctx, store.TraceQuery{})
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	result.Trace = trace

	h.evaluateAssertions(result, scenario.Assertions)
	return result, nil
}

// seed installs pre-existing live state: instances committed straight into
// the pool, deployments adopted as already-known processes, and connections
// adopted into the Actual graph and the simulated transport.
func (h *Harness) seed(seed *Seed) error {
	pool := h.eng.Pool()
	txn := pool.Begin()

	for _, si := range seed.Instances {
		spec, ok := h.catalog.Model(si.Model)
		if !ok {
			return fmt.Errorf("instance %q: model %q is not in the catalog", si.Name, si.Model)
		}
		if spec.Composite {
			return fmt.Errorf("instance %q: composites are structural and cannot be seeded live", si.Name)
		}
		if _, dup := h.names[si.Name]; dup {
			return fmt.Errorf("instance %q seeded twice", si.Name)
		}

		required := si.Model
		if si.Requirement != "" {
			req, ok := h.requirement(si.Requirement)
			if !ok {
				return fmt.Errorf("instance %q: requirement %q is not in the profile", si.Name, si.Requirement)
			}
			required = req.Model
		}

		in := &model.Instance{
			Name:              si.Name,
			Model:             spec.Name,
			RequiredModel:     required,
			FullyInstantiated: true,
			ConcreteServices:  true,
			Permanent:         si.Permanent,
			State:             model.StatePending,
			Ports:             clonePorts(spec.Ports),
		}
		if si.Running {
			in.State = model.StateRunning
		}
		id := txn.Create(in)
		h.names[si.Name] = id

		if si.Deployment != "" {
			host := si.Deployment
			if ds, ok := h.catalog.Deployment(si.Deployment); ok {
				host = ds.Host
			}
			dep := h.eng.Manager().Adopt(si.Deployment, host, id)
			in.Deployment = dep.ID
			in.Host = dep.Host
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	for _, si := range seed.Instances {
		if si.Requirement != "" {
			pool.BindRequirement(si.Requirement, h.names[si.Name])
		}
		if si.Running {
			h.sim.SetRunning(h.names[si.Name])
		}
	}

	for _, sc := range seed.Connections {
		src, err := h.seededRef(sc.Src)
		if err != nil {
			return err
		}
		sink, err := h.seededRef(sc.Sink)
		if err != nil {
			return err
		}
		policy, err := sc.Policy.toPolicy()
		if err != nil {
			return fmt.Errorf("connection %s -> %s: %w", sc.Src, sc.Sink, err)
		}
		h.eng.Reconciler().AdoptActual(pool, src, sink, policy)
		h.sim.SeedConnection(src, sink, policy)
	}
	return nil
}

// seededRef resolves an "instance.port" reference against seeded names.
func (h *Harness) seededRef(ref string) (model.PortRef, error) {
	name, port := splitPortRef(ref)
	id, ok := h.names[name]
	if !ok {
		return model.PortRef{}, fmt.Errorf("port reference %q names no seeded instance", ref)
	}
	return model.PortRef{Instance: id, Port: port}, nil
}

// toPolicy converts the YAML policy form to the model variant.
func (p PolicySpec) toPolicy() (model.Policy, error) {
	switch p.Kind {
	case "data":
		return model.Policy{Kind: model.PolicyData, Reliable: p.Reliable}, nil
	case "buffer":
		return model.Policy{Kind: model.PolicyBuffer, Size: p.Size, Reliable: p.Reliable}, nil
	default:
		return model.Policy{}, fmt.Errorf("unknown policy kind %q", p.Kind)
	}
}

// executeStep runs one scenario step and records its report.
func (h *Harness) executeStep(ctx context.Context, idx int, step Step, result *Result) error {
	report := StepReport{Seq: h.clock.Next(), Step: step.Do}

	switch step.Do {
	case StepResolve:
		h.pollLiveness()
		if err := h.eng.Drain(ctx); err != nil {
			return fmt.Errorf("steps[%d]: drain: %w", idx, err)
		}
		cycle, err := h.eng.Resolve(ctx)
		if cycle != nil {
			report.Token = cycle.Token
		}
		report.Outcome = renderOutcome(cycle, err)
		if err != nil {
			report.Err = err.Error()
		}
		h.evaluateExpect(idx, step.Expect, cycle, err, result)

	case StepTransport:
		h.sim.Step()
		for _, id := range h.sim.DrainStopped() {
			h.eng.Enqueue(engine.StopEvent(id))
		}
		h.sim.DrainStarted()
		if err := h.eng.Drain(ctx); err != nil {
			return fmt.Errorf("steps[%d]: drain: %w", idx, err)
		}

	case StepRemove:
		h.eng.Enqueue(engine.RemovalEvent(step.Requirement, step.Force))
		if err := h.eng.Drain(ctx); err != nil {
			return fmt.Errorf("steps[%d]: drain: %w", idx, err)
		}

	case StepRequirements:
		goal := h.requirements
		if len(step.Use) > 0 {
			goal = nil
			for _, name := range step.Use {
				req, ok := h.requirement(name)
				if !ok {
					return fmt.Errorf("steps[%d]: requirement %q is not in the profile", idx, name)
				}
				goal = append(goal, req)
			}
		}
		h.eng.Enqueue(engine.RequirementsEvent(goal))
		if err := h.eng.Drain(ctx); err != nil {
			return fmt.Errorf("steps[%d]: drain: %w", idx, err)
		}
	}

	result.Steps = append(result.Steps, report)
	return nil
}

// pollLiveness mirrors what the engine's tick handler does before a
// resolve: fold the transport's current view of every deployed instance
// into the pool.
func (h *Harness) pollLiveness() {
	pool := h.eng.Pool()
	for _, id := range pool.IDs() {
		in, _ := pool.Instance(id)
		if !in.Deployed() {
			continue
		}
		h.eng.Enqueue(engine.LivenessEvent(id, h.sim.Liveness(id)))
	}
}

// renderOutcome maps a cycle report and error to the scenario outcome
// vocabulary.
func renderOutcome(cycle *engine.CycleReport, err error) string {
	switch {
	case err == nil:
		if cycle == nil {
			return ""
		}
		return cycle.Outcome.String()
	case engine.IsUnrecoverableError(err):
		return "halted"
	case cycle != nil && cycle.Stage == engine.StageRolledBack:
		return "rolled-back"
	default:
		return "failed"
	}
}

// requirement finds one compiled profile requirement by name.
func (h *Harness) requirement(name string) (model.Requirement, bool) {
	for _, r := range h.requirements {
		if r.Name == name {
			return r, true
		}
	}
	return model.Requirement{}, false
}

// loadStack loads a CUE stack directory into a catalog and profile. Same
// mapping the CLI loader applies, without the CLI error envelope.
func loadStack(dir string) (*model.Catalog, []model.Requirement, error) {
	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, nil, fmt.Errorf("no CUE instances in %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, nil, fmt.Errorf("building CUE value: %w", err)
	}

	catVal := value.LookupPath(cue.ParsePath("catalog"))
	if !catVal.Exists() {
		return nil, nil, fmt.Errorf("no catalog struct in %s", dir)
	}
	catalog, err := compiler.CompileCatalog(catVal)
	if err != nil {
		return nil, nil, err
	}

	var requirements []model.Requirement
	if profVal := value.LookupPath(cue.ParsePath("profile")); profVal.Exists() {
		requirements, err = compiler.CompileProfile(profVal)
		if err != nil {
			return nil, nil, err
		}
	}
	return catalog, requirements, nil
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
