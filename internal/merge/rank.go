package merge

import (
	"github.com/cordage-io/cordage/internal/model"
)

// Preference is the outcome of ranking two merge candidates.
type Preference int

const (
	// NoPreference means the tie-break table yields no decision.
	NoPreference Preference = iota
	// PreferLeft means the left instance should survive.
	PreferLeft
	// PreferRight means the right instance should survive.
	PreferRight
)

// Rank compares two instances as merge survivors by successive tie-break
// predicates in fixed priority order. The first predicate holding for
// exactly one side decides; when all predicates tie the instances are
// incomparable.
//
// Order: unfinished beats finished, running beats not-running, undeployed
// beats deployed, concrete services beat proxied ones, fully instantiated
// beats partially, non-placeholder beats placeholder.
func Rank(a, b *model.Instance) Preference {
	predicates := []func(*model.Instance) bool{
		func(in *model.Instance) bool { return !in.State.Finished() },
		func(in *model.Instance) bool { return in.State == model.StateRunning },
		func(in *model.Instance) bool { return !in.Deployed() },
		func(in *model.Instance) bool { return in.ConcreteServices },
		func(in *model.Instance) bool { return in.FullyInstantiated },
		func(in *model.Instance) bool { return !in.Placeholder },
	}
	for _, pred := range predicates {
		pa, pb := pred(a), pred(b)
		if pa == pb {
			continue
		}
		if pa {
			return PreferLeft
		}
		return PreferRight
	}
	return NoPreference
}

// mergeKey buckets instances that could stand in for each other: the model
// or service they were required as.
func mergeKey(in *model.Instance) string {
	if in.RequiredModel != "" {
		return in.RequiredModel
	}
	return in.Model
}

// CanMerge reports whether a can be used in place of b: b would be removed
// and every reference to it redirected to a.
//
// The replacements map carries merges already decided in this pass, so
// composite child sets are compared modulo instances that are about to be
// redirected anyway.
func (s *Solver) CanMerge(a, b *model.Instance, replacements map[model.InstanceID]model.InstanceID) bool {
	if a.ID == b.ID {
		return false
	}
	// Placeholders are transaction wiring artifacts, never merge material.
	if a.Placeholder || b.Placeholder {
		return false
	}
	// Two live processes cannot collapse into one without stopping something.
	if a.Live() && b.Live() {
		return false
	}
	// An abstract instance can never stand in for a concrete one.
	if a.Abstract && !b.Abstract {
		return false
	}
	if a.Composite && b.Composite {
		if !sameChildSet(a.Children, b.Children, replacements) {
			return false
		}
	}
	if !s.catalog.Fulfills(a.Model, mergeKey(b)) {
		return false
	}
	// Deployed instances are pinned to their machine.
	if a.Deployed() && b.Deployed() && a.Host != b.Host {
		return false
	}
	return true
}

func sameChildSet(a, b []model.InstanceID, replacements map[model.InstanceID]model.InstanceID) bool {
	norm := func(ids []model.InstanceID) map[model.InstanceID]struct{} {
		out := make(map[model.InstanceID]struct{}, len(ids))
		for _, id := range ids {
			for {
				next, ok := replacements[id]
				if !ok {
					break
				}
				id = next
			}
			out[id] = struct{}{}
		}
		return out
	}
	na, nb := norm(a), norm(b)
	if len(na) != len(nb) {
		return false
	}
	for id := range na {
		if _, ok := nb[id]; !ok {
			return false
		}
	}
	return true
}
