package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/cordage-io/cordage/internal/model"
)

// SpecificationCode classifies why a requirement set cannot be realized.
type SpecificationCode string

const (
	// CodeMissingModel: a requirement names a model the catalog does not
	// define and no service fulfills.
	CodeMissingModel SpecificationCode = "missing-model"
	// CodeMissingSelection: a direct selection pins an instance that no
	// longer exists.
	CodeMissingSelection SpecificationCode = "missing-selection"
	// CodeBusMissing: a connection requests a bus no requirement provides.
	CodeBusMissing SpecificationCode = "bus-missing"
	// CodeBusAmbiguous: a bus name matched more than one requirement.
	CodeBusAmbiguous SpecificationCode = "bus-ambiguous"
	// CodeBusRole: a model lacks the port roles bus splicing needs.
	CodeBusRole SpecificationCode = "bus-role"
	// CodeBadWiring: an explicit connection names a port its model does
	// not declare.
	CodeBadWiring SpecificationCode = "bad-wiring"
)

// SpecificationError reports a requirement set that cannot be realized no
// matter how the network is arranged. It aborts the cycle and rolls back;
// retrying without changing the requirements cannot succeed.
type SpecificationError struct {
	Code        SpecificationCode
	Requirement string
	Message     string
}

func (e *SpecificationError) Error() string {
	if e.Requirement == "" {
		return fmt.Sprintf("specification error (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("specification error (%s) in %q: %s", e.Code, e.Requirement, e.Message)
}

// IsSpecificationError reports whether err wraps a SpecificationError.
func IsSpecificationError(err error) bool {
	var se *SpecificationError
	return errors.As(err, &se)
}

// UnresolvedInstance identifies one instance left abstract after merging:
// no concrete model was selected for it and no committed instance absorbed
// it.
type UnresolvedInstance struct {
	Instance model.InstanceID
	Name     string
	Required string
}

// AllocationError reports instances that survived merging without a
// concrete model. The listed set is exact: these are the instances a caller
// must disambiguate, typically by naming a concrete model or pinning a
// selection.
type AllocationError struct {
	Unresolved []UnresolvedInstance
}

func (e *AllocationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d instance(s) remain abstract after merging:", len(e.Unresolved))
	for _, u := range e.Unresolved {
		fmt.Fprintf(&b, " %s (instance %d, requires %s);", u.Name, u.Instance, u.Required)
	}
	return strings.TrimSuffix(b.String(), ";")
}

// IsAllocationError reports whether err wraps an AllocationError.
func IsAllocationError(err error) bool {
	var ae *AllocationError
	return errors.As(err, &ae)
}

func newAllocationError(unresolved []UnresolvedInstance) *AllocationError {
	sort.Slice(unresolved, func(i, j int) bool {
		return unresolved[i].Instance < unresolved[j].Instance
	})
	return &AllocationError{Unresolved: unresolved}
}

// UnrecoverableError wraps a failure the loop cannot roll back from: either
// the failure happened before the cycle snapshot was confirmed, or committed
// state failed validation at commit time. The loop halts; the process owner
// must restart from the journal.
type UnrecoverableError struct {
	Stage Stage
	Err   error
}

func (e *UnrecoverableError) Error() string {
	return fmt.Sprintf("unrecoverable failure at stage %s: %v", e.Stage, e.Err)
}

func (e *UnrecoverableError) Unwrap() error { return e.Err }

// IsUnrecoverableError reports whether err wraps an UnrecoverableError.
func IsUnrecoverableError(err error) bool {
	var ue *UnrecoverableError
	return errors.As(err, &ue)
}
