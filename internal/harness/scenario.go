package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario is one declarative conformance case: a CUE stack, optional
// pre-seeded live state, a sequence of steps driving the engine, and
// assertions over the final world.
type Scenario struct {
	// Name uniquely identifies the scenario; golden fixtures use it as the
	// file name.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Stack is the directory holding the CUE catalog and profile, relative
	// to the scenario file.
	Stack string `yaml:"stack"`

	// TokenBase seeds the deterministic cycle-token sequence. Empty means
	// the scenario name is used.
	TokenBase string `yaml:"token_base,omitempty"`

	// Seed models state that existed before the engine came up: running
	// instances and live connections the supervisor inherited.
	Seed *Seed `yaml:"seed,omitempty"`

	// Steps drive the engine in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final pool, graphs and trace.
	Assertions []Assertion `yaml:"assertions"`
}

// Seed declares pre-existing live state.
type Seed struct {
	Instances   []SeedInstance   `yaml:"instances,omitempty"`
	Connections []SeedConnection `yaml:"connections,omitempty"`
}

// SeedInstance is one pre-existing instance, created in the pool before the
// first step runs.
type SeedInstance struct {
	// Name is the instance name; seed connections and assertions refer to
	// it.
	Name string `yaml:"name"`

	// Model names the catalog model the instance runs.
	Model string `yaml:"model"`

	// Requirement optionally binds the instance to a profile requirement,
	// the way a previous resolve cycle would have. The instance's merge
	// bucket follows that requirement's model.
	Requirement string `yaml:"requirement,omitempty"`

	// Deployment adopts the instance onto a live process with the given
	// name. Host defaults to the catalog deployment's host when the name
	// matches one, else to the deployment name itself.
	Deployment string `yaml:"deployment,omitempty"`

	// Running marks the instance live on the simulated transport.
	Running bool `yaml:"running,omitempty"`

	// Permanent protects the instance from garbage collection.
	Permanent bool `yaml:"permanent,omitempty"`
}

// SeedConnection is one live connection adopted into the Actual graph and
// the simulated transport. Endpoints are "instance.port" references naming
// seeded instances.
type SeedConnection struct {
	Src    string     `yaml:"src"`
	Sink   string     `yaml:"sink"`
	Policy PolicySpec `yaml:"policy"`
}

// PolicySpec is the YAML form of a connection policy.
type PolicySpec struct {
	Kind     string `yaml:"kind"` // "data" or "buffer"
	Size     int    `yaml:"size,omitempty"`
	Reliable bool   `yaml:"reliable,omitempty"`
}

// Step kinds.
const (
	StepResolve      = "resolve"
	StepTransport    = "step-transport"
	StepRemove       = "remove"
	StepRequirements = "requirements"
)

// Step is one unit of scenario execution.
type Step struct {
	// Do selects the step kind: resolve, step-transport, remove or
	// requirements.
	Do string `yaml:"do"`

	// Requirement names the requirement a remove step drops.
	Requirement string `yaml:"requirement,omitempty"`

	// Force escalates a remove step to a forced teardown.
	Force bool `yaml:"force,omitempty"`

	// Use restricts a requirements step to a subset of the profile's
	// requirement names. Empty means the full profile.
	Use []string `yaml:"use,omitempty"`

	// Expect validates the outcome of a resolve step. Nil means the
	// resolve must simply not error.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect validates one resolve step's cycle report.
type Expect struct {
	// Outcome is one of applied, deferred, failed, rolled-back, halted.
	Outcome string `yaml:"outcome"`

	// Error requires the cycle error to contain the substring.
	Error string `yaml:"error,omitempty"`

	// NewPairs / RemovedPairs pin the change-set size. Nil means
	// unchecked.
	NewPairs     *int `yaml:"new_pairs,omitempty"`
	RemovedPairs *int `yaml:"removed_pairs,omitempty"`

	// Restarting names the instances a deferred outcome must be waiting
	// on.
	Restarting []string `yaml:"restarting,omitempty"`
}

// Assertion types.
const (
	AssertInstanceCount   = "instance_count"
	AssertInstance        = "instance"
	AssertNoInstance      = "no_instance"
	AssertBoundSame       = "bound_same"
	AssertConnection      = "connection"
	AssertNoConnection    = "no_connection"
	AssertActualCount     = "actual_count"
	AssertTraceContains   = "trace_contains"
	AssertTraceCount      = "trace_count"
	AssertRestartsPending = "restarts_pending"
)

// Assertion validates the final state after all steps ran.
type Assertion struct {
	// Type selects the assertion kind.
	Type string `yaml:"type"`

	// Count is used by instance_count, actual_count, trace_count and
	// restarts_pending.
	Count int `yaml:"count,omitempty"`

	// Name, Model, Host and State are used by instance / no_instance.
	// Empty optional fields are not checked.
	Name  string `yaml:"name,omitempty"`
	Model string `yaml:"model,omitempty"`
	Host  string `yaml:"host,omitempty"`
	State string `yaml:"state,omitempty"`

	// Requirements is used by bound_same: every listed requirement must be
	// bound to the same instance.
	Requirements []string `yaml:"requirements,omitempty"`

	// Src, Sink and Policy are used by connection / no_connection.
	// Endpoints are "instance.port"; Policy, when set, must match the
	// rendered policy (e.g. "buffer[3]").
	Src    string `yaml:"src,omitempty"`
	Sink   string `yaml:"sink,omitempty"`
	Policy string `yaml:"policy,omitempty"`

	// Stage and Event are used by trace_contains / trace_count. Empty
	// fields match any value.
	Stage string `yaml:"stage,omitempty"`
	Event string `yaml:"event,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file. The stack path is
// resolved relative to the scenario file's directory. Unknown YAML fields
// are rejected to catch typos early.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}

	if sc.Stack != "" && !filepath.IsAbs(sc.Stack) {
		sc.Stack = filepath.Join(filepath.Dir(path), sc.Stack)
	}

	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &sc, nil
}

// validateScenario checks required fields and step/assertion shapes.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Stack == "" {
		return fmt.Errorf("stack is required")
	}
	if info, err := os.Stat(s.Stack); err != nil || !info.IsDir() {
		return fmt.Errorf("stack directory not found: %s", s.Stack)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	if s.Seed != nil {
		for i, in := range s.Seed.Instances {
			if in.Name == "" {
				return fmt.Errorf("seed.instances[%d]: name is required", i)
			}
			if in.Model == "" {
				return fmt.Errorf("seed.instances[%d]: model is required", i)
			}
		}
		for i, conn := range s.Seed.Connections {
			if err := validatePortRef(conn.Src); err != nil {
				return fmt.Errorf("seed.connections[%d].src: %w", i, err)
			}
			if err := validatePortRef(conn.Sink); err != nil {
				return fmt.Errorf("seed.connections[%d].sink: %w", i, err)
			}
			if conn.Policy.Kind != "data" && conn.Policy.Kind != "buffer" {
				return fmt.Errorf("seed.connections[%d].policy: kind must be data or buffer", i)
			}
		}
	}

	for i, step := range s.Steps {
		switch step.Do {
		case StepResolve:
			if step.Expect != nil {
				if err := validateExpect(step.Expect); err != nil {
					return fmt.Errorf("steps[%d].expect: %w", i, err)
				}
			}
		case StepTransport, StepRequirements:
		case StepRemove:
			if step.Requirement == "" {
				return fmt.Errorf("steps[%d]: remove needs a requirement", i)
			}
		case "":
			return fmt.Errorf("steps[%d]: do is required", i)
		default:
			return fmt.Errorf("steps[%d]: unknown step %q", i, step.Do)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateExpect(e *Expect) error {
	switch e.Outcome {
	case "applied", "deferred", "failed", "rolled-back", "halted":
		return nil
	case "":
		return fmt.Errorf("outcome is required")
	default:
		return fmt.Errorf("unknown outcome %q", e.Outcome)
	}
}

func validateAssertion(i int, a *Assertion) error {
	switch a.Type {
	case AssertInstanceCount, AssertActualCount, AssertRestartsPending:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case AssertInstance, AssertNoInstance:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for %s", i, a.Type)
		}
	case AssertBoundSame:
		if len(a.Requirements) < 2 {
			return fmt.Errorf("assertions[%d]: bound_same needs at least two requirements", i)
		}
	case AssertConnection, AssertNoConnection:
		if err := validatePortRef(a.Src); err != nil {
			return fmt.Errorf("assertions[%d].src: %w", i, err)
		}
		if err := validatePortRef(a.Sink); err != nil {
			return fmt.Errorf("assertions[%d].sink: %w", i, err)
		}
	case AssertTraceContains:
		if a.Stage == "" && a.Event == "" {
			return fmt.Errorf("assertions[%d]: trace_contains needs a stage or an event", i)
		}
	case AssertTraceCount:
		if a.Stage == "" && a.Event == "" {
			return fmt.Errorf("assertions[%d]: trace_count needs a stage or an event", i)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative", i)
		}
	case "":
		return fmt.Errorf("assertions[%d]: type is required", i)
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", i, a.Type)
	}
	return nil
}

// validatePortRef checks the "instance.port" shape. Instance names may
// themselves contain dots (composite children), so only the last dot
// separates the port.
func validatePortRef(ref string) error {
	idx := strings.LastIndex(ref, ".")
	if idx <= 0 || idx == len(ref)-1 {
		return fmt.Errorf("port reference %q is not instance.port", ref)
	}
	return nil
}

// splitPortRef splits "instance.port" at the last dot.
func splitPortRef(ref string) (instance, port string) {
	idx := strings.LastIndex(ref, ".")
	return ref[:idx], ref[idx+1:]
}
