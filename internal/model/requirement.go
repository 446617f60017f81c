package model

// SelectionKind tags the explicit-selection variant of a requirement.
type SelectionKind int

const (
	// SelectNone leaves deployment choice entirely to allocation.
	SelectNone SelectionKind = iota
	// SelectDirect pins the requirement to an existing instance.
	SelectDirect
	// SelectList narrows allocation to a list of deployment names.
	SelectList
	// SelectName narrows allocation to a single deployment name.
	SelectName
)

// Selection is the tagged explicit-selection variant: a requirement may pin
// an instance directly, or narrow deployment choice by name(s). Exactly one
// field is meaningful per kind; ResolveSelection is the single dispatch
// point.
type Selection struct {
	Kind   SelectionKind
	Direct InstanceID
	List   []string
	Name   string
}

// DirectSelection pins a requirement to an existing instance.
func DirectSelection(id InstanceID) Selection {
	return Selection{Kind: SelectDirect, Direct: id}
}

// ListSelection narrows deployment choice to the given names.
func ListSelection(names ...string) Selection {
	return Selection{Kind: SelectList, List: names}
}

// NameSelection narrows deployment choice to a single name.
func NameSelection(name string) Selection {
	return Selection{Kind: SelectName, Name: name}
}

// ResolveSelection dispatches on the selection kind and returns the
// deployment name hints it contributes, plus the pinned instance if any.
// A zero pinned id means "no direct selection".
func ResolveSelection(s Selection) (pinned InstanceID, hints []string) {
	switch s.Kind {
	case SelectDirect:
		return s.Direct, nil
	case SelectList:
		return 0, s.List
	case SelectName:
		return 0, []string{s.Name}
	default:
		return 0, nil
	}
}

// Requirement is one declared need from the profile: an instance of Model
// must exist (and run). Requirements are the GC roots of the plan.
type Requirement struct {
	Name  string
	Model string

	Selection Selection

	// Via names the communication bus this requirement's instance attaches
	// to, if any.
	Via string

	Permanent bool
}

// DeploymentHints returns the deployment name hints contributed by the
// requirement's explicit selection.
func (r Requirement) DeploymentHints() []string {
	_, hints := ResolveSelection(r.Selection)
	return hints
}
