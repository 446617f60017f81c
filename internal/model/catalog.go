package model

import (
	"fmt"
	"sort"
)

// DeploymentSpec describes one deployable process from the catalog: a named
// binary on a host, offering a fixed set of component models.
type DeploymentSpec struct {
	Name   string
	Host   string
	Offers []string
}

// OffersModel reports whether the deployment hosts the named model.
func (d *DeploymentSpec) OffersModel(model string) bool {
	for _, o := range d.Offers {
		if o == model {
			return true
		}
	}
	return false
}

// Catalog is the compiled model registry: every component model and
// deployment the orchestrator may instantiate. It is immutable after
// compilation; the resolve pipeline only reads it.
type Catalog struct {
	models      map[string]*ModelSpec
	deployments map[string]*DeploymentSpec
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		models:      make(map[string]*ModelSpec),
		deployments: make(map[string]*DeploymentSpec),
	}
}

// AddModel registers a model spec. Duplicate names are an error.
func (c *Catalog) AddModel(m *ModelSpec) error {
	if _, dup := c.models[m.Name]; dup {
		return fmt.Errorf("duplicate model %q", m.Name)
	}
	c.models[m.Name] = m
	return nil
}

// AddDeployment registers a deployment spec. Duplicate names are an error.
func (c *Catalog) AddDeployment(d *DeploymentSpec) error {
	if _, dup := c.deployments[d.Name]; dup {
		return fmt.Errorf("duplicate deployment %q", d.Name)
	}
	c.deployments[d.Name] = d
	return nil
}

// Model returns the named model spec.
func (c *Catalog) Model(name string) (*ModelSpec, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Deployment returns the named deployment spec.
func (c *Catalog) Deployment(name string) (*DeploymentSpec, bool) {
	d, ok := c.deployments[name]
	return d, ok
}

// ModelNames returns all model names in ascending order.
func (c *Catalog) ModelNames() []string {
	names := make([]string, 0, len(c.models))
	for n := range c.models {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DeploymentNames returns all deployment names in ascending order.
func (c *Catalog) DeploymentNames() []string {
	names := make([]string, 0, len(c.deployments))
	for n := range c.deployments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fulfills reports whether the named model provides the named requirement
// (model name, or a service listed in its fulfillments).
func (c *Catalog) Fulfills(model, requirement string) bool {
	m, ok := c.models[model]
	if !ok {
		return false
	}
	return m.FulfillsService(requirement)
}

// Ports returns the declared ports of the named model, or nil when unknown.
func (c *Catalog) Ports(model string) []PortSpec {
	m, ok := c.models[model]
	if !ok {
		return nil
	}
	return m.Ports
}

// ActivationOf returns the model's activation scheme.
func (c *Catalog) ActivationOf(model string) (Activation, bool) {
	m, ok := c.models[model]
	if !ok {
		return Activation{}, false
	}
	return m.Activation, true
}

// DeploymentsOffering lists the deployments hosting the named model, in
// ascending name order for deterministic allocation.
func (c *Catalog) DeploymentsOffering(model string) []*DeploymentSpec {
	var out []*DeploymentSpec
	for _, name := range c.DeploymentNames() {
		d := c.deployments[name]
		if d.OffersModel(model) {
			out = append(out, d)
		}
	}
	return out
}
