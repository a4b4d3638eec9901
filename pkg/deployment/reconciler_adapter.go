package deployment

import (
	"context"

	"github.com/CoderRahul01/unideploy/pkg/reconciler"
)

// ReconcilerDeployments adapts Store to reconciler.LiveDeploymentLister.
type ReconcilerDeployments struct {
	*Store
}

// NewReconcilerDeployments wraps a Store for use by the reconciler.
func NewReconcilerDeployments(s *Store) ReconcilerDeployments {
	return ReconcilerDeployments{Store: s}
}

// ListLiveWithDomain implements reconciler.LiveDeploymentLister.
func (r ReconcilerDeployments) ListLiveWithDomain(ctx context.Context) ([]reconciler.DeploymentRow, error) {
	rows, err := r.Store.ListLiveWithDomain(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reconciler.DeploymentRow, 0, len(rows))
	for _, d := range rows {
		sandboxID := ""
		if d.SandboxID != nil {
			sandboxID = *d.SandboxID
		}
		out = append(out, reconciler.DeploymentRow{ProjectID: d.ProjectID, SandboxID: sandboxID})
	}
	return out, nil
}
