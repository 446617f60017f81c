package compiler

import (
	"fmt"

	"github.com/cordage-io/cordage/internal/model"
)

// Validation error codes (E200-E299).
const (
	// ErrUnknownModel is a model or service reference nothing in the
	// catalog provides.
	ErrUnknownModel = "E201"

	// ErrUnknownPort is a reference to a port the model does not declare.
	ErrUnknownPort = "E202"

	// ErrPortDirection is a declared port used against its direction.
	ErrPortDirection = "E203"

	// ErrCompositeShape is a violated composite structure rule.
	ErrCompositeShape = "E204"

	// ErrBadActivation is an activation scheme the dynamics engine cannot
	// derive triggers from.
	ErrBadActivation = "E205"

	// ErrUnknownBus is a via reference no requirement in the profile
	// provides, or one that several provide.
	ErrUnknownBus = "E206"

	// ErrBadSelection is an explicit selection naming unknown deployments.
	ErrBadSelection = "E207"

	// ErrUnknownChild is a wiring endpoint naming a child the composite
	// does not declare.
	ErrUnknownChild = "E208"
)

// ValidationError is one semantic problem found after compilation. The
// validators return every error they find rather than stopping at the first.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidateCatalog checks the cross references the CUE schema cannot express:
// children name known models, wiring lands on declared ports with the right
// directions, bus roles name declared ports, deployments offer concrete
// models. Composite containment cycles are a separate pass; see
// AnalyzeComposites.
func ValidateCatalog(cat *model.Catalog) []ValidationError {
	var errs []ValidationError

	for _, name := range cat.ModelNames() {
		spec, _ := cat.Model(name)
		errs = append(errs, validateModel(cat, spec)...)
	}

	for _, name := range cat.DeploymentNames() {
		dep, _ := cat.Deployment(name)
		for _, offer := range dep.Offers {
			offered, ok := cat.Model(offer)
			if !ok {
				errs = append(errs, ValidationError{
					Field:   name + ".offers",
					Message: fmt.Sprintf("offered model %q is not in the catalog", offer),
					Code:    ErrUnknownModel,
				})
				continue
			}
			if offered.Composite {
				errs = append(errs, ValidationError{
					Field:   name + ".offers",
					Message: fmt.Sprintf("composite model %q cannot be offered, deployments host concrete models", offer),
					Code:    ErrCompositeShape,
				})
			}
		}
	}

	return errs
}

func validateModel(cat *model.Catalog, spec *model.ModelSpec) []ValidationError {
	var errs []ValidationError
	name := spec.Name

	if spec.Composite {
		if len(spec.Ports) > 0 {
			errs = append(errs, ValidationError{
				Field:   name + ".ports",
				Message: "composite models are structural and declare no ports",
				Code:    ErrCompositeShape,
			})
		}
		if len(spec.Children) == 0 {
			errs = append(errs, ValidationError{
				Field:   name + ".children",
				Message: "a composite model declares at least one child",
				Code:    ErrCompositeShape,
			})
		}
	} else {
		if len(spec.Children) > 0 || len(spec.Wiring) > 0 {
			errs = append(errs, ValidationError{
				Field:   name,
				Message: "only composite models declare children or wiring",
				Code:    ErrCompositeShape,
			})
		}
		if spec.Activation.Kind == 0 {
			errs = append(errs, ValidationError{
				Field:   name + ".activation",
				Message: "concrete models declare an activation scheme",
				Code:    ErrBadActivation,
			})
		}
	}
	if spec.Activation.Kind == model.ActivationPeriodic && spec.Activation.Period <= 0 {
		errs = append(errs, ValidationError{
			Field:   name + ".activation",
			Message: "periodic activation requires a positive period",
			Code:    ErrBadActivation,
		})
	}

	childModels := make(map[string]string, len(spec.Children))
	for _, child := range spec.Children {
		childModels[child.Name] = child.Model
		if _, ok := cat.Model(child.Model); !ok {
			errs = append(errs, ValidationError{
				Field:   name + ".children." + child.Name,
				Message: fmt.Sprintf("child model %q is not in the catalog", child.Model),
				Code:    ErrUnknownModel,
			})
		}
	}

	for _, edge := range spec.Wiring {
		errs = append(errs, validateEdgeEndpoint(cat, name, childModels, edge.SrcChild, edge.SrcPort, model.Output)...)
		errs = append(errs, validateEdgeEndpoint(cat, name, childModels, edge.SinkChild, edge.SinkPort, model.Input)...)
	}

	// Triggered-by references stay within the declaring model.
	for _, port := range spec.Ports {
		for _, trigger := range port.TriggeredBy {
			ref, ok := spec.Port(trigger)
			if !ok {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.ports.%s.triggeredBy", name, port.Name),
					Message: fmt.Sprintf("port %q is not declared by %q", trigger, name),
					Code:    ErrUnknownPort,
				})
				continue
			}
			if ref.Dir != model.Input {
				errs = append(errs, ValidationError{
					Field:   fmt.Sprintf("%s.ports.%s.triggeredBy", name, port.Name),
					Message: fmt.Sprintf("trigger %q is not an input port", trigger),
					Code:    ErrPortDirection,
				})
			}
		}
	}

	if spec.Bus != nil {
		errs = append(errs, validateRolePort(spec, name+".bus.in", spec.Bus.In, model.Input)...)
		errs = append(errs, validateRolePort(spec, name+".bus.out", spec.Bus.Out, model.Output)...)
	}
	if spec.BusClient != nil {
		errs = append(errs, validateRolePort(spec, name+".busClient.tx", spec.BusClient.TX, model.Output)...)
		errs = append(errs, validateRolePort(spec, name+".busClient.rx", spec.BusClient.RX, model.Input)...)
	}

	return errs
}

func validateEdgeEndpoint(cat *model.Catalog, owner string, children map[string]string, child, port string, want model.Direction) []ValidationError {
	childModel, ok := children[child]
	if !ok {
		return []ValidationError{{
			Field:   owner + ".wiring",
			Message: fmt.Sprintf("edge references unknown child %q", child),
			Code:    ErrUnknownChild,
		}}
	}
	spec, ok := cat.Model(childModel)
	if !ok {
		// The dangling child model is already reported once.
		return nil
	}
	ref, ok := spec.Port(port)
	if !ok {
		return []ValidationError{{
			Field:   owner + ".wiring",
			Message: fmt.Sprintf("child %q has no port %q", child, port),
			Code:    ErrUnknownPort,
		}}
	}
	if ref.Dir != want {
		return []ValidationError{{
			Field:   owner + ".wiring",
			Message: fmt.Sprintf("port %q of child %q is not an %s port", port, child, want),
			Code:    ErrPortDirection,
		}}
	}
	return nil
}

func validateRolePort(spec *model.ModelSpec, field, port string, want model.Direction) []ValidationError {
	ref, ok := spec.Port(port)
	if !ok {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("port %q is not declared by %q", port, spec.Name),
			Code:    ErrUnknownPort,
		}}
	}
	if ref.Dir != want {
		return []ValidationError{{
			Field:   field,
			Message: fmt.Sprintf("port %q is not an %s port", port, want),
			Code:    ErrPortDirection,
		}}
	}
	return nil
}

// ValidateProfile checks requirements against the catalog and against each
// other: every model or service must be resolvable, every via must name
// exactly one providing requirement, and deployment selections must name
// known deployments. Ambiguous service fulfillment is legal here; the merge
// pipeline resolves or rejects it with full network context.
func ValidateProfile(cat *model.Catalog, reqs []model.Requirement) []ValidationError {
	var errs []ValidationError

	for _, req := range reqs {
		if !resolvable(cat, req.Model) {
			errs = append(errs, ValidationError{
				Field:   req.Name + ".model",
				Message: fmt.Sprintf("no model or fulfilling service named %q", req.Model),
				Code:    ErrUnknownModel,
			})
		}

		if req.Via != "" {
			providers := 0
			for _, other := range reqs {
				if other.Name == req.Name {
					continue
				}
				if other.Name == req.Via || other.Model == req.Via {
					providers++
				}
			}
			switch {
			case providers == 0:
				errs = append(errs, ValidationError{
					Field:   req.Name + ".via",
					Message: fmt.Sprintf("no requirement provides bus %q", req.Via),
					Code:    ErrUnknownBus,
				})
			case providers > 1:
				errs = append(errs, ValidationError{
					Field:   req.Name + ".via",
					Message: fmt.Sprintf("bus reference %q is ambiguous, %d requirements provide it", req.Via, providers),
					Code:    ErrUnknownBus,
				})
			}
		}

		for _, hint := range req.DeploymentHints() {
			if _, ok := cat.Deployment(hint); !ok {
				errs = append(errs, ValidationError{
					Field:   req.Name,
					Message: fmt.Sprintf("selection names unknown deployment %q", hint),
					Code:    ErrBadSelection,
				})
			}
		}
	}

	return errs
}

func resolvable(cat *model.Catalog, required string) bool {
	if _, ok := cat.Model(required); ok {
		return true
	}
	for _, name := range cat.ModelNames() {
		if cat.Fulfills(name, required) {
			return true
		}
	}
	return false
}
