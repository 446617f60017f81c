package model

import "time"

// Direction distinguishes input from output ports.
type Direction int

const (
	// Input ports receive data from upstream output ports.
	Input Direction = iota + 1
	// Output ports produce data consumed by downstream input ports.
	Output
)

// String returns the lowercase direction name.
func (d Direction) String() string {
	switch d {
	case Input:
		return "input"
	case Output:
		return "output"
	default:
		return "unknown"
	}
}

// Delivery expresses what a sink port requires from its inbound connections.
// It drives policy derivation: synchronous delivery maps to a data policy,
// minimal delivery to a single-slot buffer, and sized delivery to a buffer
// dimensioned from the source port's dynamics.
type Delivery int

const (
	// DeliverSized is the default: the buffer is sized from dynamics.
	DeliverSized Delivery = iota
	// DeliverSynchronous requires synchronous (data) delivery.
	DeliverSynchronous
	// DeliverMinimal requires a single-slot buffer regardless of dynamics.
	DeliverMinimal
)

// String returns the lowercase delivery name.
func (d Delivery) String() string {
	switch d {
	case DeliverSized:
		return "sized"
	case DeliverSynchronous:
		return "synchronous"
	case DeliverMinimal:
		return "minimal"
	default:
		return "unknown"
	}
}

// PortSpec describes one port of a component model.
//
// Output ports may declare TriggeredBy: the names of the input ports whose
// arrival causes this output to be written. An empty TriggeredBy means the
// output is written whenever the owning component updates. Input ports may
// declare TriggersTask: inbound samples trigger the owning component (an
// "event port").
type PortSpec struct {
	Name string
	Dir  Direction
	Type string

	// Static marks a port whose reconnection requires the owning instance
	// to be restarted.
	Static bool

	// RequiresReliable forces a non-droppable policy on inbound connections.
	RequiresReliable bool

	// Delivery is the sink-side delivery requirement (input ports only).
	Delivery Delivery

	// SampleSize is the per-sample size unit used to dimension buffers
	// (output ports only; defaults to 1 when unset).
	SampleSize int

	// TriggeredBy lists input port names that cause this output to be
	// written. Empty means "written on component update".
	TriggeredBy []string

	// BurstSize and BurstPeriod declare a burst contribution registered on
	// top of the propagated triggers (output ports only).
	BurstSize   int
	BurstPeriod time.Duration

	// TriggersTask marks an input port whose samples trigger the owning
	// component.
	TriggersTask bool
}

// ActivationKind distinguishes how a component is activated.
type ActivationKind int

const (
	// ActivationPeriodic components run on a fixed period.
	ActivationPeriodic ActivationKind = iota + 1
	// ActivationTriggered components run only when an event port fires.
	ActivationTriggered
)

// Activation is a component model's activation scheme. Periodic activation
// contributes one baseline trigger (period, one sample) to the instance's
// dynamics; triggered activation contributes none.
type Activation struct {
	Kind   ActivationKind
	Period time.Duration
}

// Periodic builds a periodic activation scheme.
func Periodic(period time.Duration) Activation {
	return Activation{Kind: ActivationPeriodic, Period: period}
}

// Triggered builds a port-driven activation scheme.
func Triggered() Activation {
	return Activation{Kind: ActivationTriggered}
}

// ChildSpec names one child of a composite model.
type ChildSpec struct {
	Name  string
	Model string
}

// EdgeSpec declares one internal connection of a composite model, between
// named children. Composites are structural and own no runtime ports, so
// both endpoints must name children.
type EdgeSpec struct {
	SrcChild  string
	SrcPort   string
	SinkChild string
	SinkPort  string
}

// BusRole marks a model as a communication bus and names its multiplexing
// ports.
type BusRole struct {
	In  string // port receiving from bus clients
	Out string // port fanning out to bus clients
}

// BusClientRole names the ports a client model attaches to a bus with.
type BusClientRole struct {
	TX string // client output spliced into the bus input
	RX string // client input fed from the bus output
}

// ModelSpec is one component model definition from the catalog.
type ModelSpec struct {
	Name     string
	Fulfills []string

	Activation     Activation
	TriggerLatency time.Duration

	Ports []PortSpec

	Composite bool
	Children  []ChildSpec
	Wiring    []EdgeSpec

	Bus       *BusRole
	BusClient *BusClientRole
}

// Port returns the named port spec, if declared.
func (m *ModelSpec) Port(name string) (*PortSpec, bool) {
	for i := range m.Ports {
		if m.Ports[i].Name == name {
			return &m.Ports[i], true
		}
	}
	return nil, false
}

// FulfillsService reports whether the model provides the named service,
// either as its own name or through its declared fulfillments.
func (m *ModelSpec) FulfillsService(service string) bool {
	if m.Name == service {
		return true
	}
	for _, f := range m.Fulfills {
		if f == service {
			return true
		}
	}
	return false
}
