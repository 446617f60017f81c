package deploy

import (
	"context"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
)

// RestartRequest asks for running instances to be recreated: every Stop
// instance is torn down, and once all of them are observed stopped the Start
// deployments are relaunched. Used when a static port needs rewiring.
type RestartRequest struct {
	Stop  []model.InstanceID
	Start []model.DeploymentID
}

// barrier is one outstanding restart: starts held until pending drains.
type barrier struct {
	pending mapset.Set[model.InstanceID]
	start   []model.DeploymentID
}

// Manager owns the deployment records and the process-facing state the
// orchestrator must not keep as globals: the reconfiguration registry and
// the restart barriers. Mutated only from the orchestrator loop.
type Manager struct {
	transport Transport
	catalog   *model.Catalog
	logger    *slog.Logger

	nextID  model.DeploymentID
	byID    map[model.DeploymentID]*Deployment
	byName  map[string]*Deployment
	pending []model.DeploymentID

	barriers    []*barrier
	reconfigure mapset.Set[model.InstanceID]
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager over the catalog and transport.
func NewManager(catalog *model.Catalog, transport Transport, opts ...ManagerOption) *Manager {
	m := &Manager{
		transport:   transport,
		catalog:     catalog,
		logger:      slog.Default(),
		nextID:      1,
		byID:        make(map[model.DeploymentID]*Deployment),
		byName:      make(map[string]*Deployment),
		reconfigure: mapset.NewThreadUnsafeSet[model.InstanceID](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Deployment returns the record with the given id.
func (m *Manager) Deployment(id model.DeploymentID) (*Deployment, bool) {
	d, ok := m.byID[id]
	return d, ok
}

// Deployments returns all records in ascending id order.
func (m *Manager) Deployments() []*Deployment {
	out := make([]*Deployment, 0, len(m.byID))
	for _, d := range m.byID {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ensure returns the deployment record for a catalog spec, creating it on
// first use. One record per spec name; a process hosts many instances.
func (m *Manager) ensure(spec *model.DeploymentSpec) *Deployment {
	if d, ok := m.byName[spec.Name]; ok {
		return d
	}
	d := &Deployment{ID: m.nextID, Name: spec.Name, Host: spec.Host}
	m.nextID++
	m.byID[d.ID] = d
	m.byName[spec.Name] = d
	m.queueLaunch(d.ID)
	return d
}

// queueLaunch marks the record for the next LaunchPending pass, once.
func (m *Manager) queueLaunch(id model.DeploymentID) {
	for _, queued := range m.pending {
		if queued == id {
			return
		}
	}
	m.pending = append(m.pending, id)
}

// Adopt registers an externally known deployment, used when warm-starting
// from a journal where instances are already live. The record is not queued
// for launch.
func (m *Manager) Adopt(name, host string, instances ...model.InstanceID) *Deployment {
	if d, ok := m.byName[name]; ok {
		for _, id := range instances {
			if !d.Hosts(id) {
				d.Instances = append(d.Instances, id)
			}
		}
		return d
	}
	d := &Deployment{ID: m.nextID, Name: name, Host: host, Instances: instances}
	m.nextID++
	m.byID[d.ID] = d
	m.byName[name] = d
	return d
}

// Forget removes the instances from every deployment record. Called after a
// commit for ids that left the plan, so a later launch does not bring up
// processes nothing references anymore. The records themselves stay known.
func (m *Manager) Forget(ids ...model.InstanceID) {
	gone := mapset.NewThreadUnsafeSet(ids...)
	for _, d := range m.byID {
		kept := d.Instances[:0]
		for _, id := range d.Instances {
			if !gone.Contains(id) {
				kept = append(kept, id)
			}
		}
		d.Instances = kept
	}
}

// LaunchPending starts every deployment queued since the last call: records
// created by allocation plus records that gained instances. Transport
// failures are logged and left for a later cycle; the deployment stays known
// so liveness polling can pick it up.
func (m *Manager) LaunchPending(ctx context.Context) {
	for _, id := range m.pending {
		d := m.byID[id]
		if len(d.Instances) == 0 {
			continue
		}
		if err := m.transport.Start(ctx, d); err != nil {
			m.logger.Warn("deployment start failed",
				slog.String("deployment", d.Name),
				slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("deployment start requested",
			slog.String("deployment", d.Name),
			slog.String("host", d.Host),
			slog.Int("instances", len(d.Instances)))
	}
	m.pending = nil
}

// RequestRestart stops every instance in the request and holds the listed
// deployment starts behind an all-stopped barrier. Stops that fail with a
// communication error count as already observed: the process is gone either
// way. The affected instances are marked as needing reconfiguration.
func (m *Manager) RequestRestart(ctx context.Context, req RestartRequest) {
	pending := mapset.NewThreadUnsafeSet[model.InstanceID]()
	for _, id := range req.Stop {
		m.reconfigure.Add(id)
		if err := m.transport.Stop(ctx, id); err != nil {
			m.logger.Warn("stop failed, treating instance as already down",
				slog.Uint64("instance", uint64(id)),
				slog.String("error", err.Error()))
			continue
		}
		pending.Add(id)
	}
	b := &barrier{pending: pending, start: req.Start}
	if pending.Cardinality() == 0 {
		m.release(ctx, b)
		return
	}
	m.barriers = append(m.barriers, b)
	m.logger.Debug("restart barrier armed",
		slog.Int("stops", pending.Cardinality()),
		slog.Int("starts", len(req.Start)))
}

// ObserveStop records one observed stop and releases every barrier it
// drains. Call once per stop notification from the transport.
func (m *Manager) ObserveStop(ctx context.Context, id model.InstanceID) {
	kept := m.barriers[:0]
	for _, b := range m.barriers {
		b.pending.Remove(id)
		if b.pending.Cardinality() == 0 {
			m.release(ctx, b)
			continue
		}
		kept = append(kept, b)
	}
	m.barriers = kept
}

// PendingRestarts reports how many barriers still wait for stops.
func (m *Manager) PendingRestarts() int {
	return len(m.barriers)
}

func (m *Manager) release(ctx context.Context, b *barrier) {
	for _, depID := range b.start {
		d, ok := m.byID[depID]
		if !ok {
			continue
		}
		if err := m.transport.Start(ctx, d); err != nil {
			m.logger.Warn("replacement start failed",
				slog.String("deployment", d.Name),
				slog.String("error", err.Error()))
			continue
		}
		m.logger.Info("replacement start requested", slog.String("deployment", d.Name))
	}
}

// Snapshot captures the deployment records and the pending launch queue.
// Taken together with the plan snapshot before a resolve cycle so a rolled
// back allocation does not leave phantom instance bindings on the records.
// Barriers and the reconfigure registry track live processes, not planned
// ones, and are not captured.
type Snapshot struct {
	nextID  model.DeploymentID
	records []Deployment
	pending []model.DeploymentID
}

// Snapshot copies the current deployment records.
func (m *Manager) Snapshot() Snapshot {
	s := Snapshot{
		nextID:  m.nextID,
		records: make([]Deployment, 0, len(m.byID)),
		pending: append([]model.DeploymentID(nil), m.pending...),
	}
	for _, d := range m.Deployments() {
		rec := *d
		rec.Instances = append([]model.InstanceID(nil), d.Instances...)
		s.records = append(s.records, rec)
	}
	return s
}

// Restore rewinds the deployment records to a snapshot. Called on rollback.
func (m *Manager) Restore(s Snapshot) {
	m.nextID = s.nextID
	m.byID = make(map[model.DeploymentID]*Deployment, len(s.records))
	m.byName = make(map[string]*Deployment, len(s.records))
	for i := range s.records {
		rec := s.records[i]
		rec.Instances = append([]model.InstanceID(nil), s.records[i].Instances...)
		m.byID[rec.ID] = &rec
		m.byName[rec.Name] = &rec
	}
	m.pending = append([]model.DeploymentID(nil), s.pending...)
}

// MarkReconfigure flags instances whose configuration must be re-pushed on
// next start.
func (m *Manager) MarkReconfigure(ids ...model.InstanceID) {
	for _, id := range ids {
		m.reconfigure.Add(id)
	}
}

// NeedsReconfigure reports whether the instance was flagged.
func (m *Manager) NeedsReconfigure(id model.InstanceID) bool {
	return m.reconfigure.Contains(id)
}

// ResetReconfigure clears the registry, normally after a cycle applied
// cleanly.
func (m *Manager) ResetReconfigure() {
	m.reconfigure.Clear()
}
