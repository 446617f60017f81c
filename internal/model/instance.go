package model

import "fmt"

// InstanceID is a stable opaque identifier for one component instance.
// IDs are allocated by the plan pool and never reused within a process, so
// graph structures can key adjacency on them safely across merges and GC.
type InstanceID uint64

// DeploymentID identifies one live process hosting instances. Zero means
// "not bound to any deployment".
type DeploymentID uint64

// LifecycleState tracks where an instance is in its run lifecycle.
type LifecycleState int

const (
	// StatePending instances are defined but not running.
	StatePending LifecycleState = iota
	// StateRunning instances execute on a live deployment.
	StateRunning
	// StateFinishing instances have been asked to stop.
	StateFinishing
	// StateFinished instances have stopped.
	StateFinished
)

// String returns the lowercase state name.
func (s LifecycleState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateRunning:
		return "running"
	case StateFinishing:
		return "finishing"
	case StateFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Finished reports whether the instance is stopping or stopped. Merge
// ranking treats both the same way: the instance is on its way out.
func (s LifecycleState) Finished() bool {
	return s == StateFinishing || s == StateFinished
}

// ConnSpec is one declared concrete connection, owned by the source
// instance: this instance's SrcPort feeds Sink's SinkPort. Policy stays
// unset until the dynamics engine derives it.
type ConnSpec struct {
	SrcPort  string
	Sink     InstanceID
	SinkPort string
	Policy   Policy
}

// PortRef names one port on one instance.
type PortRef struct {
	Instance InstanceID
	Port     string
}

func (r PortRef) String() string {
	return fmt.Sprintf("%d.%s", r.Instance, r.Port)
}

// Instance is one component in the network.
//
// Instances are plain data: all mutation goes through the plan transaction
// that owns them during a resolve cycle. Code outside the plan must treat
// instances obtained from it as snapshots.
type Instance struct {
	ID   InstanceID
	Name string

	// Model is the concrete component model; RequiredModel is the model or
	// service name the instance was requested as, used to bucket merge
	// candidates.
	Model         string
	RequiredModel string

	Deployment DeploymentID
	Host       string

	// Abstract instances have not been bound to a concrete deployment yet.
	Abstract bool
	// Placeholder instances proxy a committed instance inside a transaction
	// overlay. They must never escape into committed state. ProxyFor names
	// the committed instance a placeholder stands in for.
	Placeholder bool
	ProxyFor    InstanceID

	FullyInstantiated bool
	ConcreteServices  bool

	Permanent bool
	Mission   bool

	State LifecycleState

	Composite bool
	Children  []InstanceID

	Ports       []PortSpec
	Connections []ConnSpec
}

// Deployed reports whether the instance is bound to a deployment.
func (in *Instance) Deployed() bool {
	return in.Deployment != 0
}

// Live reports whether the instance is deployed and currently running.
func (in *Instance) Live() bool {
	return in.Deployed() && in.State == StateRunning
}

// Port returns the named port spec, if the instance carries it.
func (in *Instance) Port(name string) (*PortSpec, bool) {
	for i := range in.Ports {
		if in.Ports[i].Name == name {
			return &in.Ports[i], true
		}
	}
	return nil, false
}

// HasChild reports whether id appears in the instance's child list.
func (in *Instance) HasChild(id InstanceID) bool {
	for _, c := range in.Children {
		if c == id {
			return true
		}
	}
	return false
}

// HasConnection reports whether an identical declared connection exists.
func (in *Instance) HasConnection(c ConnSpec) bool {
	for _, have := range in.Connections {
		if have.SrcPort == c.SrcPort && have.Sink == c.Sink && have.SinkPort == c.SinkPort {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. The plan transaction uses it to implement
// copy-on-write overlays.
func (in *Instance) Clone() *Instance {
	out := *in
	if in.Children != nil {
		out.Children = make([]InstanceID, len(in.Children))
		copy(out.Children, in.Children)
	}
	if in.Ports != nil {
		out.Ports = make([]PortSpec, len(in.Ports))
		copy(out.Ports, in.Ports)
		for i := range out.Ports {
			if tb := in.Ports[i].TriggeredBy; tb != nil {
				out.Ports[i].TriggeredBy = make([]string, len(tb))
				copy(out.Ports[i].TriggeredBy, tb)
			}
		}
	}
	if in.Connections != nil {
		out.Connections = make([]ConnSpec, len(in.Connections))
		copy(out.Connections, in.Connections)
	}
	return &out
}
