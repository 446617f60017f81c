// Package plan owns the instance arena and the copy-on-write transaction a
// resolve cycle runs inside.
//
// The Pool is the committed state: every known instance keyed by a stable
// InstanceID, plus the requirement-to-instance and device-to-instance binding
// tables the orchestrator maintains outside the transaction. A resolve cycle
// begins a Txn, builds the next network in its overlay, and either commits
// (overlay folded into the pool) or discards (pool untouched). Binding tables
// are snapshotted separately because the orchestrator rewrites them while the
// transaction is still open; rollback restores the snapshot.
//
// Single-writer discipline: only the orchestrator loop mutates a pool or its
// transaction. Diagnostic readers take snapshot copies.
package plan

import (
	"sort"

	"github.com/cordage-io/cordage/internal/model"
)

// Pool is the committed instance arena.
type Pool struct {
	nextID    model.InstanceID
	instances map[model.InstanceID]*model.Instance

	requirements map[string]model.InstanceID
	devices      map[string]model.InstanceID
}

// NewPool creates an empty pool. Instance IDs start at 1; zero stays
// reserved as "no instance".
func NewPool() *Pool {
	return &Pool{
		nextID:       1,
		instances:    make(map[model.InstanceID]*model.Instance),
		requirements: make(map[string]model.InstanceID),
		devices:      make(map[string]model.InstanceID),
	}
}

// Instance returns the committed instance with the given id.
func (p *Pool) Instance(id model.InstanceID) (*model.Instance, bool) {
	in, ok := p.instances[id]
	return in, ok
}

// Instances returns a fresh map of the committed instances. The map is the
// caller's; the instances themselves are shared and must be treated as
// read-only.
func (p *Pool) Instances() map[model.InstanceID]*model.Instance {
	out := make(map[model.InstanceID]*model.Instance, len(p.instances))
	for id, in := range p.instances {
		out[id] = in
	}
	return out
}

// IDs returns all committed instance ids in ascending order.
func (p *Pool) IDs() []model.InstanceID {
	ids := make([]model.InstanceID, 0, len(p.instances))
	for id := range p.instances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of committed instances.
func (p *Pool) Len() int {
	return len(p.instances)
}

// BindRequirement records that the named requirement is served by the given
// instance. Binding to id zero removes the entry.
func (p *Pool) BindRequirement(name string, id model.InstanceID) {
	if id == 0 {
		delete(p.requirements, name)
		return
	}
	p.requirements[name] = id
}

// RequirementBinding returns the instance serving the named requirement.
func (p *Pool) RequirementBinding(name string) (model.InstanceID, bool) {
	id, ok := p.requirements[name]
	return id, ok
}

// RequirementBindings returns a copy of the requirement binding table.
func (p *Pool) RequirementBindings() map[string]model.InstanceID {
	out := make(map[string]model.InstanceID, len(p.requirements))
	for n, id := range p.requirements {
		out[n] = id
	}
	return out
}

// BindDevice records that the named device is realized by the given
// instance. Binding to id zero removes the entry.
func (p *Pool) BindDevice(name string, id model.InstanceID) {
	if id == 0 {
		delete(p.devices, name)
		return
	}
	p.devices[name] = id
}

// DeviceBinding returns the instance realizing the named device.
func (p *Pool) DeviceBinding(name string) (model.InstanceID, bool) {
	id, ok := p.devices[name]
	return id, ok
}

// DeviceBindings returns a copy of the device binding table.
func (p *Pool) DeviceBindings() map[string]model.InstanceID {
	out := make(map[string]model.InstanceID, len(p.devices))
	for n, id := range p.devices {
		out[n] = id
	}
	return out
}

// MarkState records a lifecycle transition observed on a committed instance,
// outside any transaction. Stop notifications and liveness polling land here.
// Single-writer: only the orchestrator loop calls it. Returns whether the
// state actually changed.
func (p *Pool) MarkState(id model.InstanceID, s model.LifecycleState) bool {
	in, ok := p.instances[id]
	if !ok || in.State == s {
		return false
	}
	in.State = s
	return true
}

// Bindings returns the union of requirement and device bindings, requirement
// names first. Used as the garbage-collection root set.
func (p *Pool) Bindings() map[string]model.InstanceID {
	out := make(map[string]model.InstanceID, len(p.requirements)+len(p.devices))
	for n, id := range p.requirements {
		out[n] = id
	}
	for n, id := range p.devices {
		out[n] = id
	}
	return out
}

// Rebind redirects every binding that points at an obsolete instance to its
// replacement. The merge solver publishes its replacement map so external
// name tables stay consistent with the surviving instances.
func (p *Pool) Rebind(replacements map[model.InstanceID]model.InstanceID) {
	for n, id := range p.requirements {
		if to, ok := resolveReplacement(replacements, id); ok {
			p.requirements[n] = to
		}
	}
	for n, id := range p.devices {
		if to, ok := resolveReplacement(replacements, id); ok {
			p.devices[n] = to
		}
	}
}

// resolveReplacement follows replacement chains (a merged into b, b merged
// into c) to the final survivor.
func resolveReplacement(replacements map[model.InstanceID]model.InstanceID, id model.InstanceID) (model.InstanceID, bool) {
	to, ok := replacements[id]
	if !ok {
		return 0, false
	}
	for {
		next, more := replacements[to]
		if !more {
			return to, true
		}
		to = next
	}
}

// Snapshot captures the binding tables. Taken by the orchestrator before a
// resolve cycle mutates anything.
type Snapshot struct {
	requirements map[string]model.InstanceID
	devices      map[string]model.InstanceID
}

// Snapshot copies the current binding tables.
func (p *Pool) Snapshot() Snapshot {
	s := Snapshot{
		requirements: make(map[string]model.InstanceID, len(p.requirements)),
		devices:      make(map[string]model.InstanceID, len(p.devices)),
	}
	for n, id := range p.requirements {
		s.requirements[n] = id
	}
	for n, id := range p.devices {
		s.devices[n] = id
	}
	return s
}

// Restore rewrites the binding tables from a snapshot. Called on rollback.
func (p *Pool) Restore(s Snapshot) {
	p.requirements = make(map[string]model.InstanceID, len(s.requirements))
	for n, id := range s.requirements {
		p.requirements[n] = id
	}
	p.devices = make(map[string]model.InstanceID, len(s.devices))
	for n, id := range s.devices {
		p.devices[n] = id
	}
}
