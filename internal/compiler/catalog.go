package compiler

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/cordage-io/cordage/internal/model"
)

// CompileCatalog parses a CUE value into a model catalog. The value is the
// catalog struct itself:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(src)
//	cat, err := CompileCatalog(v.LookupPath(cue.ParsePath("catalog")))
//
// The mapping is deliberately thin: CUE field names mirror the model types,
// and everything the schema cannot express (cross references, directions,
// composite shape) is left to ValidateCatalog.
func CompileCatalog(v cue.Value) (*model.Catalog, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	cat := model.NewCatalog()

	modelsVal := v.LookupPath(cue.ParsePath("models"))
	if !modelsVal.Exists() {
		return nil, &CompileError{
			Field:   "models",
			Message: "a catalog requires a models struct",
			Pos:     v.Pos(),
		}
	}
	iter, err := modelsVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		spec, err := parseModel(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		if err := cat.AddModel(spec); err != nil {
			return nil, &CompileError{
				Field:   "models",
				Message: err.Error(),
				Pos:     iter.Value().Pos(),
			}
		}
	}

	depsVal := v.LookupPath(cue.ParsePath("deployments"))
	if depsVal.Exists() {
		iter, err := depsVal.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			spec, err := parseDeployment(iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			if err := cat.AddDeployment(spec); err != nil {
				return nil, &CompileError{
					Field:   "deployments",
					Message: err.Error(),
					Pos:     iter.Value().Pos(),
				}
			}
		}
	}

	return cat, nil
}

func parseModel(name string, v cue.Value) (*model.ModelSpec, error) {
	spec := &model.ModelSpec{Name: name}

	if fv := v.LookupPath(cue.ParsePath("fulfills")); fv.Exists() {
		list, err := stringList(fv, name+".fulfills")
		if err != nil {
			return nil, err
		}
		spec.Fulfills = list
	}

	composite, err := optionalBool(v, "composite", name)
	if err != nil {
		return nil, err
	}
	spec.Composite = composite

	if av := v.LookupPath(cue.ParsePath("activation")); av.Exists() {
		act, err := parseActivation(name, av)
		if err != nil {
			return nil, err
		}
		spec.Activation = act
	}

	if lv := v.LookupPath(cue.ParsePath("triggerLatency")); lv.Exists() {
		d, err := requireDuration(lv, name+".triggerLatency")
		if err != nil {
			return nil, err
		}
		spec.TriggerLatency = d
	}

	if pv := v.LookupPath(cue.ParsePath("ports")); pv.Exists() {
		iter, err := pv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			port, err := parsePort(name, iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Ports = append(spec.Ports, port)
		}
		sort.Slice(spec.Ports, func(i, j int) bool {
			return spec.Ports[i].Name < spec.Ports[j].Name
		})
	}

	if cv := v.LookupPath(cue.ParsePath("children")); cv.Exists() {
		iter, err := cv.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			childModel, err := iter.Value().String()
			if err != nil {
				return nil, formatCUEError(err)
			}
			spec.Children = append(spec.Children, model.ChildSpec{
				Name:  iter.Label(),
				Model: childModel,
			})
		}
		sort.Slice(spec.Children, func(i, j int) bool {
			return spec.Children[i].Name < spec.Children[j].Name
		})
	}

	if wv := v.LookupPath(cue.ParsePath("wiring")); wv.Exists() {
		iter, err := wv.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			edge, err := parseEdge(name, iter.Value())
			if err != nil {
				return nil, err
			}
			spec.Wiring = append(spec.Wiring, edge)
		}
	}

	if bv := v.LookupPath(cue.ParsePath("bus")); bv.Exists() {
		in, err := requireString(bv, "in", name+".bus.in")
		if err != nil {
			return nil, err
		}
		out, err := requireString(bv, "out", name+".bus.out")
		if err != nil {
			return nil, err
		}
		spec.Bus = &model.BusRole{In: in, Out: out}
	}

	if bv := v.LookupPath(cue.ParsePath("busClient")); bv.Exists() {
		tx, err := requireString(bv, "tx", name+".busClient.tx")
		if err != nil {
			return nil, err
		}
		rx, err := requireString(bv, "rx", name+".busClient.rx")
		if err != nil {
			return nil, err
		}
		spec.BusClient = &model.BusClientRole{TX: tx, RX: rx}
	}

	return spec, nil
}

func parseActivation(owner string, v cue.Value) (model.Activation, error) {
	pv := v.LookupPath(cue.ParsePath("periodic"))
	tv := v.LookupPath(cue.ParsePath("triggered"))
	switch {
	case pv.Exists() && tv.Exists():
		return model.Activation{}, &CompileError{
			Field:   owner + ".activation",
			Message: "periodic and triggered are mutually exclusive",
			Pos:     v.Pos(),
		}
	case pv.Exists():
		d, err := requireDuration(pv, owner+".activation.periodic")
		if err != nil {
			return model.Activation{}, err
		}
		return model.Periodic(d), nil
	case tv.Exists():
		triggered, err := tv.Bool()
		if err != nil {
			return model.Activation{}, formatCUEError(err)
		}
		if !triggered {
			return model.Activation{}, &CompileError{
				Field:   owner + ".activation.triggered",
				Message: "triggered activation is declared with true, or omitted",
				Pos:     tv.Pos(),
			}
		}
		return model.Triggered(), nil
	default:
		return model.Activation{}, &CompileError{
			Field:   owner + ".activation",
			Message: "an activation declares periodic: <duration> or triggered: true",
			Pos:     v.Pos(),
		}
	}
}

func parsePort(owner, name string, v cue.Value) (model.PortSpec, error) {
	port := model.PortSpec{Name: name}
	field := owner + ".ports." + name

	dirVal := v.LookupPath(cue.ParsePath("dir"))
	if !dirVal.Exists() {
		return port, &CompileError{
			Field:   field + ".dir",
			Message: `ports declare dir: "input" or "output"`,
			Pos:     v.Pos(),
		}
	}
	dir, err := dirVal.String()
	if err != nil {
		return port, formatCUEError(err)
	}
	switch dir {
	case "input":
		port.Dir = model.Input
	case "output":
		port.Dir = model.Output
	default:
		return port, &CompileError{
			Field:   field + ".dir",
			Message: fmt.Sprintf(`unknown direction %q, expected "input" or "output"`, dir),
			Pos:     dirVal.Pos(),
		}
	}

	if tv := v.LookupPath(cue.ParsePath("type")); tv.Exists() {
		typ, err := tv.String()
		if err != nil {
			return port, formatCUEError(err)
		}
		port.Type = typ
	}

	if port.Static, err = optionalBool(v, "static", field); err != nil {
		return port, err
	}
	if port.RequiresReliable, err = optionalBool(v, "reliable", field); err != nil {
		return port, err
	}
	if port.TriggersTask, err = optionalBool(v, "triggersTask", field); err != nil {
		return port, err
	}

	if dv := v.LookupPath(cue.ParsePath("delivery")); dv.Exists() {
		delivery, err := parseDelivery(field, dv)
		if err != nil {
			return port, err
		}
		port.Delivery = delivery
	}

	if sv := v.LookupPath(cue.ParsePath("sampleSize")); sv.Exists() {
		n, err := requireInt(sv, field+".sampleSize")
		if err != nil {
			return port, err
		}
		port.SampleSize = int(n)
	}

	if tv := v.LookupPath(cue.ParsePath("triggeredBy")); tv.Exists() {
		list, err := stringList(tv, field+".triggeredBy")
		if err != nil {
			return port, err
		}
		port.TriggeredBy = list
	}

	if bv := v.LookupPath(cue.ParsePath("burst")); bv.Exists() {
		size, err := requireInt(bv.LookupPath(cue.ParsePath("size")), field+".burst.size")
		if err != nil {
			return port, err
		}
		period, err := requireDuration(bv.LookupPath(cue.ParsePath("period")), field+".burst.period")
		if err != nil {
			return port, err
		}
		port.BurstSize = int(size)
		port.BurstPeriod = period
	}

	return port, nil
}

func parseEdge(owner string, v cue.Value) (model.EdgeSpec, error) {
	var edge model.EdgeSpec
	from, err := requireString(v, "from", owner+".wiring.from")
	if err != nil {
		return edge, err
	}
	to, err := requireString(v, "to", owner+".wiring.to")
	if err != nil {
		return edge, err
	}

	var ok bool
	if edge.SrcChild, edge.SrcPort, ok = strings.Cut(from, "."); !ok {
		return edge, &CompileError{
			Field:   owner + ".wiring.from",
			Message: fmt.Sprintf(`%q is not a "child.port" reference`, from),
			Pos:     v.Pos(),
		}
	}
	if edge.SinkChild, edge.SinkPort, ok = strings.Cut(to, "."); !ok {
		return edge, &CompileError{
			Field:   owner + ".wiring.to",
			Message: fmt.Sprintf(`%q is not a "child.port" reference`, to),
			Pos:     v.Pos(),
		}
	}
	return edge, nil
}

func parseDeployment(name string, v cue.Value) (*model.DeploymentSpec, error) {
	spec := &model.DeploymentSpec{Name: name}

	host, err := requireString(v, "host", name+".host")
	if err != nil {
		return nil, err
	}
	spec.Host = host

	if ov := v.LookupPath(cue.ParsePath("offers")); ov.Exists() {
		offers, err := stringList(ov, name+".offers")
		if err != nil {
			return nil, err
		}
		spec.Offers = offers
	}
	return spec, nil
}

func parseDelivery(field string, v cue.Value) (model.Delivery, error) {
	s, err := v.String()
	if err != nil {
		return model.DeliverSized, formatCUEError(err)
	}
	switch s {
	case "sized":
		return model.DeliverSized, nil
	case "synchronous":
		return model.DeliverSynchronous, nil
	case "minimal":
		return model.DeliverMinimal, nil
	default:
		return model.DeliverSized, &CompileError{
			Field:   field + ".delivery",
			Message: fmt.Sprintf(`unknown delivery %q, expected "sized", "synchronous" or "minimal"`, s),
			Pos:     v.Pos(),
		}
	}
}

// requireInt reads an integer and rejects float values outright: buffer
// dimensions and instance pins are counts, and a silently truncated float
// would change the network.
func requireInt(v cue.Value, field string) (int64, error) {
	if !v.Exists() {
		return 0, &CompileError{Field: field, Message: "required integer is missing", Pos: v.Pos()}
	}
	switch v.IncompleteKind() {
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return 0, formatCUEError(err)
		}
		return n, nil
	case cue.FloatKind, cue.NumberKind:
		return 0, &CompileError{
			Field:   field,
			Message: "float values are forbidden, use an integer",
			Pos:     v.Pos(),
		}
	default:
		return 0, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("expected an integer, found %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// requireDuration reads a Go duration literal from a CUE string.
func requireDuration(v cue.Value, field string) (time.Duration, error) {
	if !v.Exists() {
		return 0, &CompileError{Field: field, Message: "required duration is missing", Pos: v.Pos()}
	}
	s, err := v.String()
	if err != nil {
		return 0, &CompileError{
			Field:   field,
			Message: `durations are strings like "50ms"`,
			Pos:     v.Pos(),
		}
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &CompileError{Field: field, Message: err.Error(), Pos: v.Pos()}
	}
	return d, nil
}

func requireString(v cue.Value, path, field string) (string, error) {
	sv := v.LookupPath(cue.ParsePath(path))
	if !sv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: "required string is missing",
			Pos:     v.Pos(),
		}
	}
	s, err := sv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func optionalBool(v cue.Value, path, owner string) (bool, error) {
	bv := v.LookupPath(cue.ParsePath(path))
	if !bv.Exists() {
		return false, nil
	}
	b, err := bv.Bool()
	if err != nil {
		return false, &CompileError{
			Field:   owner + "." + path,
			Message: "expected a boolean",
			Pos:     bv.Pos(),
		}
	}
	return b, nil
}

func stringList(v cue.Value, field string) ([]string, error) {
	iter, err := v.List()
	if err != nil {
		return nil, &CompileError{
			Field:   field,
			Message: "expected a list of strings",
			Pos:     v.Pos(),
		}
	}
	var out []string
	for iter.Next() {
		s, err := iter.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		out = append(out, s)
	}
	return out, nil
}

// CompileError is a compilation failure with its CUE source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError lifts position information out of a CUE evaluation error.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
