package reconcile

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/cordage-io/cordage/internal/model"
)

// RestartSet returns the running instances whose static ports the change-set
// would rewire. Static ports only bind at process start, so these instances
// must be stopped before the change-set can land and restarted afterwards.
//
// resolve maps instance ids that were merged away this cycle to their
// surviving replacement; nil means identity. Removed pairs carry ids from
// the Actual graph, which may predate the merge, so every owner goes
// through resolve before the view lookup.
func (r *Reconciler) RestartSet(view View, changes *ChangeSet, resolve func(model.InstanceID) model.InstanceID) mapset.Set[model.InstanceID] {
	if resolve == nil {
		resolve = func(id model.InstanceID) model.InstanceID { return id }
	}
	out := mapset.NewThreadUnsafeSet[model.InstanceID]()
	consider := func(ref model.PortRef) {
		owner := resolve(ref.Instance)
		in, ok := view.Instance(owner)
		if !ok {
			return
		}
		static := r.actual.IsStatic(ref)
		if !static {
			if port, ok := in.Port(ref.Port); ok {
				static = port.Static
			}
		}
		if static && in.Live() {
			out.Add(owner)
		}
	}
	for key, m := range changes.New {
		for pair := range m {
			consider(model.PortRef{Instance: key.Src, Port: pair.SrcPort})
			consider(model.PortRef{Instance: key.Sink, Port: pair.SinkPort})
		}
	}
	for key, m := range changes.Removed {
		for pair := range m {
			consider(model.PortRef{Instance: key.Src, Port: pair.SrcPort})
			consider(model.PortRef{Instance: key.Sink, Port: pair.SinkPort})
		}
	}
	return out
}
