package compiler

import (
	"sort"

	"cuelang.org/go/cue"

	"github.com/cordage-io/cordage/internal/model"
)

// CompileProfile parses a CUE value into a requirement set. The value is the
// profile struct itself; requirements come back sorted by name so repeated
// compilations of the same profile produce identical goal updates.
//
// An empty requirements struct is a legal profile: declaring it clears the
// network down to permanent instances.
func CompileProfile(v cue.Value) ([]model.Requirement, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	reqVal := v.LookupPath(cue.ParsePath("requirements"))
	if !reqVal.Exists() {
		return nil, &CompileError{
			Field:   "requirements",
			Message: "a profile requires a requirements struct",
			Pos:     v.Pos(),
		}
	}
	iter, err := reqVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var reqs []model.Requirement
	for iter.Next() {
		req, err := parseRequirement(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].Name < reqs[j].Name })
	return reqs, nil
}

func parseRequirement(name string, v cue.Value) (model.Requirement, error) {
	req := model.Requirement{Name: name}

	modelName, err := requireString(v, "model", name+".model")
	if err != nil {
		return req, err
	}
	req.Model = modelName

	if vv := v.LookupPath(cue.ParsePath("via")); vv.Exists() {
		via, err := vv.String()
		if err != nil {
			return req, formatCUEError(err)
		}
		req.Via = via
	}

	if req.Permanent, err = optionalBool(v, "permanent", name); err != nil {
		return req, err
	}

	sel, err := parseSelection(name, v)
	if err != nil {
		return req, err
	}
	req.Selection = sel
	return req, nil
}

// parseSelection reads the explicit-selection forms. At most one of
// instance, deployment and deployments may be declared.
func parseSelection(owner string, v cue.Value) (model.Selection, error) {
	instVal := v.LookupPath(cue.ParsePath("instance"))
	nameVal := v.LookupPath(cue.ParsePath("deployment"))
	listVal := v.LookupPath(cue.ParsePath("deployments"))

	declared := 0
	for _, val := range []cue.Value{instVal, nameVal, listVal} {
		if val.Exists() {
			declared++
		}
	}
	if declared > 1 {
		return model.Selection{}, &CompileError{
			Field:   owner,
			Message: "instance, deployment and deployments are mutually exclusive",
			Pos:     v.Pos(),
		}
	}

	switch {
	case instVal.Exists():
		id, err := requireInt(instVal, owner+".instance")
		if err != nil {
			return model.Selection{}, err
		}
		if id <= 0 {
			return model.Selection{}, &CompileError{
				Field:   owner + ".instance",
				Message: "instance pins are positive ids",
				Pos:     instVal.Pos(),
			}
		}
		return model.DirectSelection(model.InstanceID(id)), nil
	case nameVal.Exists():
		depName, err := nameVal.String()
		if err != nil {
			return model.Selection{}, formatCUEError(err)
		}
		return model.NameSelection(depName), nil
	case listVal.Exists():
		names, err := stringList(listVal, owner+".deployments")
		if err != nil {
			return model.Selection{}, err
		}
		return model.ListSelection(names...), nil
	default:
		return model.Selection{}, nil
	}
}
