package plan

import (
	"fmt"
	"sort"

	"github.com/cordage-io/cordage/internal/model"
)

// Txn is a copy-on-write overlay over a Pool. Reads fall through to the
// committed state; every write lands in the overlay until Commit folds it
// back. Instances obtained through Instance or Instances are read-only;
// Modify returns a private copy that is safe to mutate.
//
// A transaction is single-use: after Commit or Discard it refuses further
// work.
type Txn struct {
	pool    *Pool
	nextID  model.InstanceID
	writes  map[model.InstanceID]*model.Instance
	dropped map[model.InstanceID]struct{}
	done    bool
}

// Begin opens a transaction over the pool.
func (p *Pool) Begin() *Txn {
	return &Txn{
		pool:    p,
		nextID:  p.nextID,
		writes:  make(map[model.InstanceID]*model.Instance),
		dropped: make(map[model.InstanceID]struct{}),
	}
}

// Create adds a new instance to the overlay and assigns its id.
func (t *Txn) Create(in *model.Instance) model.InstanceID {
	id := t.nextID
	t.nextID++
	in.ID = id
	t.writes[id] = in
	return id
}

// CreatePlaceholder adds a placeholder standing in for a committed instance.
// Placeholders must be resolved (references retargeted, placeholder dropped)
// before commit.
func (t *Txn) CreatePlaceholder(name string, proxyFor model.InstanceID) model.InstanceID {
	return t.Create(&model.Instance{
		Name:        name,
		Abstract:    true,
		Placeholder: true,
		ProxyFor:    proxyFor,
	})
}

// Instance returns the transaction's view of an instance: the overlay copy
// when one exists, the committed one otherwise. The result is read-only.
func (t *Txn) Instance(id model.InstanceID) (*model.Instance, bool) {
	if _, gone := t.dropped[id]; gone {
		return nil, false
	}
	if in, ok := t.writes[id]; ok {
		return in, true
	}
	in, ok := t.pool.instances[id]
	return in, ok
}

// Modify returns a mutable copy of the instance, cloning the committed state
// into the overlay on first touch.
func (t *Txn) Modify(id model.InstanceID) (*model.Instance, bool) {
	if _, gone := t.dropped[id]; gone {
		return nil, false
	}
	if in, ok := t.writes[id]; ok {
		return in, true
	}
	base, ok := t.pool.instances[id]
	if !ok {
		return nil, false
	}
	clone := base.Clone()
	t.writes[id] = clone
	return clone, true
}

// Drop removes the instance from the transaction's view. Committed instances
// are deleted at commit; overlay-only instances just vanish.
func (t *Txn) Drop(id model.InstanceID) {
	delete(t.writes, id)
	if _, ok := t.pool.instances[id]; ok {
		t.dropped[id] = struct{}{}
	}
}

// Exists reports whether the instance is visible in the transaction.
func (t *Txn) Exists(id model.InstanceID) bool {
	_, ok := t.Instance(id)
	return ok
}

// Instances returns the merged view: committed instances (minus drops,
// shadowed by overlay copies) plus created ones. The map is the caller's;
// treat the instances as read-only.
func (t *Txn) Instances() map[model.InstanceID]*model.Instance {
	out := make(map[model.InstanceID]*model.Instance, len(t.pool.instances)+len(t.writes))
	for id, in := range t.pool.instances {
		if _, gone := t.dropped[id]; gone {
			continue
		}
		out[id] = in
	}
	for id, in := range t.writes {
		out[id] = in
	}
	return out
}

// IDs returns the ids visible in the transaction, ascending.
func (t *Txn) IDs() []model.InstanceID {
	view := t.Instances()
	ids := make([]model.InstanceID, 0, len(view))
	for id := range view {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Commit validates the overlay and folds it into the pool.
//
// Commit fails with an InvariantError when a placeholder survived, when a
// surviving instance references a removed one, or when a binding table entry
// points at a removed instance. These are fatal: the transaction stays open
// so a caller can inspect it, but the pool has not been touched.
func (t *Txn) Commit() error {
	if t.done {
		return &InvariantError{Code: ErrCodeTxnReused, Message: "transaction already finished"}
	}

	view := t.Instances()
	for _, id := range t.IDs() {
		in := view[id]
		if in.Placeholder {
			return &InvariantError{
				Code:     ErrCodePlaceholderEscape,
				Message:  fmt.Sprintf("placeholder %q survived to commit", in.Name),
				Instance: id,
			}
		}
		for _, child := range in.Children {
			if _, ok := view[child]; !ok {
				return &InvariantError{
					Code:     ErrCodeDanglingReference,
					Message:  fmt.Sprintf("child %d of instance %q does not survive commit", child, in.Name),
					Instance: id,
				}
			}
		}
		for _, conn := range in.Connections {
			if _, ok := view[conn.Sink]; !ok {
				return &InvariantError{
					Code:     ErrCodeDanglingReference,
					Message:  fmt.Sprintf("connection %s -> %d.%s of instance %q targets a removed instance", conn.SrcPort, conn.Sink, conn.SinkPort, in.Name),
					Instance: id,
				}
			}
		}
	}
	for name, id := range t.pool.Bindings() {
		if _, ok := view[id]; !ok {
			return &InvariantError{
				Code:     ErrCodeDanglingBinding,
				Message:  fmt.Sprintf("binding %q points at a removed instance", name),
				Instance: id,
			}
		}
	}

	for id := range t.dropped {
		delete(t.pool.instances, id)
	}
	for id, in := range t.writes {
		t.pool.instances[id] = in
	}
	t.pool.nextID = t.nextID
	t.done = true
	return nil
}

// Discard abandons the overlay. The pool is untouched.
func (t *Txn) Discard() {
	t.writes = make(map[model.InstanceID]*model.Instance)
	t.dropped = make(map[model.InstanceID]struct{})
	t.done = true
}
