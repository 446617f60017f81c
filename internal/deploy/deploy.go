// Package deploy owns the boundary between the planned network and the
// processes that run it: deployment records, the transport interface the
// orchestrator drives, deployment allocation, and restart coordination.
//
// ARCHITECTURE: the orchestrator never talks to a process directly. It binds
// instances to Deployment records (Allocate), asks the Transport to start,
// stop, connect and disconnect, and observes the results as events on later
// ticks. Transport calls are issued non-blocking from the orchestrator's
// loop; the only ordering the package enforces is the restart barrier, which
// holds replacement starts until every stop of the request is observed.
//
// Thread-safety: Manager follows the single-writer discipline of the
// orchestrator loop. SimTransport carries its own lock so the CLI and tests
// can poke it between ticks.
package deploy

import (
	"context"
	"errors"

	"github.com/cordage-io/cordage/internal/model"
)

// Deployment is one process hosting component instances.
type Deployment struct {
	ID   model.DeploymentID
	Name string
	Host string
	// Instances lists the hosted instances in binding order.
	Instances []model.InstanceID
}

// Hosts reports whether the deployment hosts the instance.
func (d *Deployment) Hosts(id model.InstanceID) bool {
	for _, in := range d.Instances {
		if in == id {
			return true
		}
	}
	return false
}

// ErrComm is a transient communication failure. Callers treat it as
// component death or an already-applied change: log and reconcile later,
// never abort the cycle.
var ErrComm = errors.New("transport communication failure")

// ErrPortNotFound means the remote side does not expose the named port.
var ErrPortNotFound = errors.New("port not found")

// Transport is the wire boundary to running deployments. Implementations
// must be non-blocking: results of Start and Stop are observed through
// Liveness and the caller's event queue on later ticks, not awaited.
type Transport interface {
	// Start launches the deployment process.
	Start(ctx context.Context, dep *Deployment) error
	// Stop asks the instance's host process to tear the instance down.
	Stop(ctx context.Context, id model.InstanceID) error
	// Connect establishes one port pair with the given delivery policy.
	Connect(ctx context.Context, src, sink model.PortRef, policy model.Policy) error
	// Disconnect tears one port pair down.
	Disconnect(ctx context.Context, src, sink model.PortRef) error
	// IsExecutable reports whether the instance's process can accept
	// connection changes right now.
	IsExecutable(id model.InstanceID) bool
	// Liveness reports the transport's view of the instance state.
	Liveness(id model.InstanceID) model.LifecycleState
}
