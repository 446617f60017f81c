// Package reconcile diffs the declared connection state against the live one
// and drives the transport to close the gap.
//
// ARCHITECTURE: the Reconciler owns two connection graphs. Required is
// rebuilt from the plan's declared connections every cycle; Actual mirrors
// what the transport last confirmed. ComputeChanges produces the (new,
// removed) change-set between them at port-pair granularity; Apply executes
// it, deferring whenever a static port would be rewired under a running
// instance. The Actual graph is authoritative in-process; an optional
// journal trails it so a restarted supervisor can warm-start.
//
// INVARIANTS:
//   - No connection mutation touches a running static port: the owning
//     instance restarts first (Deferred outcome, barrier in deploy).
//   - A completed Apply leaves ComputeChanges empty on the same view.
//   - Transport communication failures never fail a cycle: the change is
//     treated as already applied and consistency is restored on a later
//     tick.
//
// Thread-safety: single-writer (the orchestrator loop). Diagnostic readers
// take Snapshot copies.
package reconcile

import (
	"log/slog"

	"github.com/cordage-io/cordage/internal/deploy"
	"github.com/cordage-io/cordage/internal/graph"
	"github.com/cordage-io/cordage/internal/model"
)

// View is the reconciler's read surface over the plan. Both plan.Pool and
// plan.Txn satisfy it.
type View interface {
	Instance(id model.InstanceID) (*model.Instance, bool)
	IDs() []model.InstanceID
}

// Journal trails Actual graph mutations to durable storage. Implementations
// must be idempotent per key; journal failures are logged, never fatal.
type Journal interface {
	RecordConnection(src, sink model.PortRef, policy model.Policy) error
	DeleteConnection(src, sink model.PortRef) error
}

// Reconciler owns the Required and Actual graphs and the transport calls
// that move Actual toward Required.
type Reconciler struct {
	required *graph.Graph
	actual   *graph.Graph

	transport deploy.Transport
	manager   *deploy.Manager
	journal   Journal
	logger    *slog.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithJournal attaches a connection journal.
func WithJournal(j Journal) Option {
	return func(r *Reconciler) { r.journal = j }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a reconciler with empty graphs.
func New(transport deploy.Transport, manager *deploy.Manager, opts ...Option) *Reconciler {
	r := &Reconciler{
		required:  graph.New(),
		actual:    graph.New(),
		transport: transport,
		manager:   manager,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AdoptActual seeds the Actual graph, used to warm-start from a journal or
// to model pre-existing live state. Static marks for ports the view knows
// are recorded alongside.
func (r *Reconciler) AdoptActual(view View, src model.PortRef, sink model.PortRef, policy model.Policy) {
	r.actual.Add(src.Instance, src.Port, sink.Instance, sink.Port, policy)
	r.markStatics(view, src, sink)
}

// Snapshot returns independent copies of (required, actual) for diagnostic
// readers.
func (r *Reconciler) Snapshot() (*graph.Graph, *graph.Graph) {
	return r.required.Clone(), r.actual.Clone()
}

// Actual exposes the live graph to the single-writer loop. Diagnostic
// readers must use Snapshot instead.
func (r *Reconciler) Actual() *graph.Graph {
	return r.actual
}

// Forget drops every Required edge owned by or targeting the instance.
// Actual keeps its entries until Apply tears the live connections down.
func (r *Reconciler) Forget(id model.InstanceID) {
	r.required.RemoveInstance(id)
}

// markStatics records static flags on the Actual graph for both endpoints,
// so restart decisions survive the instances leaving the plan.
func (r *Reconciler) markStatics(view View, src, sink model.PortRef) {
	if in, ok := view.Instance(src.Instance); ok {
		if p, ok := in.Port(src.Port); ok && p.Static {
			r.actual.MarkStatic(src)
		}
	}
	if in, ok := view.Instance(sink.Instance); ok {
		if p, ok := in.Port(sink.Port); ok && p.Static {
			r.actual.MarkStatic(sink)
		}
	}
}
