package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
)

// ConnKey identifies one transport-level connection.
type ConnKey struct {
	Src  model.PortRef
	Sink model.PortRef
}

// SimTransport is the in-memory transport used by the CLI plan command, the
// conformance harness and tests. Start and Stop take effect only when Step
// advances the simulation, mirroring the asynchronous completion of the real
// boundary; Connect and Disconnect apply immediately.
//
// Failures are injected per connection key or per instance and persist
// until cleared.
type SimTransport struct {
	mu sync.Mutex

	executable mapset.Set[model.InstanceID]
	liveness   map[model.InstanceID]model.LifecycleState
	conns      map[ConnKey]model.Policy

	pendingStarts []*Deployment
	pendingStops  []model.InstanceID

	stopped []model.InstanceID
	started []model.DeploymentID

	connectErrs    map[ConnKey]error
	disconnectErrs map[ConnKey]error
	stopErrs       map[model.InstanceID]error
}

// NewSimTransport creates an empty simulation.
func NewSimTransport() *SimTransport {
	return &SimTransport{
		executable:     mapset.NewThreadUnsafeSet[model.InstanceID](),
		liveness:       make(map[model.InstanceID]model.LifecycleState),
		conns:          make(map[ConnKey]model.Policy),
		connectErrs:    make(map[ConnKey]error),
		disconnectErrs: make(map[ConnKey]error),
		stopErrs:       make(map[model.InstanceID]error),
	}
}

// Start queues the deployment's instances to come alive on the next Step.
func (s *SimTransport) Start(ctx context.Context, dep *Deployment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingStarts = append(s.pendingStarts, dep)
	return nil
}

// Stop queues the instance to go down on the next Step.
func (s *SimTransport) Stop(ctx context.Context, id model.InstanceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.stopErrs[id]; ok {
		return err
	}
	if _, known := s.liveness[id]; !known {
		return fmt.Errorf("stop instance %d: %w", id, ErrComm)
	}
	s.pendingStops = append(s.pendingStops, id)
	return nil
}

// Connect establishes the pair immediately.
func (s *SimTransport) Connect(ctx context.Context, src, sink model.PortRef, policy model.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ConnKey{Src: src, Sink: sink}
	if err, ok := s.connectErrs[key]; ok {
		return err
	}
	s.conns[key] = policy
	return nil
}

// Disconnect removes the pair. Disconnecting something already gone is a
// no-op: the goal state holds either way.
func (s *SimTransport) Disconnect(ctx context.Context, src, sink model.PortRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ConnKey{Src: src, Sink: sink}
	if err, ok := s.disconnectErrs[key]; ok {
		return err
	}
	delete(s.conns, key)
	return nil
}

// IsExecutable reports whether the instance's process accepts changes.
func (s *SimTransport) IsExecutable(id model.InstanceID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executable.Contains(id)
}

// Liveness reports the simulated lifecycle state.
func (s *SimTransport) Liveness(id model.InstanceID) model.LifecycleState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveness[id]
}

// Step advances the simulation one tick: queued stops land first, then
// queued starts. Landed events are collected for DrainStopped and
// DrainStarted.
func (s *SimTransport) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	stops := append([]model.InstanceID(nil), s.pendingStops...)
	sort.Slice(stops, func(i, j int) bool { return stops[i] < stops[j] })
	for _, id := range stops {
		s.liveness[id] = model.StateFinished
		s.executable.Remove(id)
		s.stopped = append(s.stopped, id)
	}
	s.pendingStops = nil

	for _, dep := range s.pendingStarts {
		for _, id := range dep.Instances {
			s.liveness[id] = model.StateRunning
			s.executable.Add(id)
		}
		s.started = append(s.started, dep.ID)
	}
	s.pendingStarts = nil
}

// DrainStopped returns and clears the stops observed since the last drain.
func (s *SimTransport) DrainStopped() []model.InstanceID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.stopped
	s.stopped = nil
	return out
}

// DrainStarted returns and clears the deployment starts observed since the
// last drain.
func (s *SimTransport) DrainStarted() []model.DeploymentID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.started
	s.started = nil
	return out
}

// SetRunning seeds an instance as live and executable, bypassing Step. Used
// to model pre-existing state.
func (s *SimTransport) SetRunning(ids ...model.InstanceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.liveness[id] = model.StateRunning
		s.executable.Add(id)
	}
}

// SeedConnection installs a live connection without going through Connect.
func (s *SimTransport) SeedConnection(src, sink model.PortRef, policy model.Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[ConnKey{Src: src, Sink: sink}] = policy
}

// FailConnect makes Connect fail for the pair until ClearFailures.
func (s *SimTransport) FailConnect(src, sink model.PortRef, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErrs[ConnKey{Src: src, Sink: sink}] = err
}

// FailDisconnect makes Disconnect fail for the pair until ClearFailures.
func (s *SimTransport) FailDisconnect(src, sink model.PortRef, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectErrs[ConnKey{Src: src, Sink: sink}] = err
}

// FailStop makes Stop fail for the instance until ClearFailures.
func (s *SimTransport) FailStop(id model.InstanceID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopErrs[id] = err
}

// ClearFailures removes all injected failures.
func (s *SimTransport) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectErrs = make(map[ConnKey]error)
	s.disconnectErrs = make(map[ConnKey]error)
	s.stopErrs = make(map[model.InstanceID]error)
}

// Connection returns the live policy for the pair.
func (s *SimTransport) Connection(src, sink model.PortRef) (model.Policy, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.conns[ConnKey{Src: src, Sink: sink}]
	return p, ok
}

// ConnectionCount returns the number of live pairs.
func (s *SimTransport) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
