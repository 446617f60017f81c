package deploy

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/cordage-io/cordage/internal/model"
	"github.com/cordage-io/cordage/internal/plan"
)

// MissingDeployment names one instance no deployment can host.
type MissingDeployment struct {
	Instance model.InstanceID
	Name     string
	Model    string
}

// MissingDeploymentError reports concrete instances left without a
// deployment binding after allocation. The resolve cycle aborts and rolls
// back; the offending instances are listed exactly.
type MissingDeploymentError struct {
	Missing []MissingDeployment
}

// Error implements the error interface.
func (e *MissingDeploymentError) Error() string {
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = fmt.Sprintf("%q (model %s)", m.Name, m.Model)
	}
	return fmt.Sprintf("no deployment offers %d instance(s): %s",
		len(e.Missing), strings.Join(parts, ", "))
}

// Allocate binds every undeployed concrete task instance in the transaction
// to a deployment offering its model. Name hints narrow multiple offers;
// without a deciding hint the first offer in name order wins. Composites are
// structural and never bound; their children are. Instances on their way
// out keep whatever binding they have.
//
// All bindable instances are processed before the error for the unbindable
// ones is returned, so the caller sees the full missing set at once.
func (m *Manager) Allocate(txn *plan.Txn, hints map[model.InstanceID][]string) error {
	var missing []MissingDeployment
	for _, id := range txn.IDs() {
		in, _ := txn.Instance(id)
		if in.Abstract || in.Placeholder || in.Composite || in.Deployed() || in.State.Finished() {
			continue
		}
		offers := m.catalog.DeploymentsOffering(in.Model)
		if len(offers) == 0 {
			missing = append(missing, MissingDeployment{Instance: id, Name: in.Name, Model: in.Model})
			continue
		}
		spec := narrowOffers(offers, hints[id])
		d := m.ensure(spec)

		mut, _ := txn.Modify(id)
		mut.Deployment = d.ID
		mut.Host = d.Host
		if !d.Hosts(id) {
			d.Instances = append(d.Instances, id)
			// A record gaining an instance must reach the transport again,
			// whether the process is new, already up, or being recreated.
			m.queueLaunch(d.ID)
		}
		m.logger.Debug("instance allocated",
			slog.Uint64("instance", uint64(id)),
			slog.String("name", in.Name),
			slog.String("deployment", d.Name))
	}
	if len(missing) > 0 {
		return &MissingDeploymentError{Missing: missing}
	}
	return nil
}

// narrowOffers applies deployment name hints to a non-empty offer list.
// A hint that matches nothing is ignored.
func narrowOffers(offers []*model.DeploymentSpec, hints []string) *model.DeploymentSpec {
	for _, h := range hints {
		for _, o := range offers {
			if o.Name == h {
				return o
			}
		}
	}
	return offers[0]
}
