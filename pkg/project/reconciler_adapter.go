package project

import (
	"context"

	"github.com/CoderRahul01/unideploy/pkg/reconciler"
)

// ReconcilerStore adapts Store to reconciler.Store, translating between the
// two packages' independently-declared row types so neither package needs
// to import the other.
type ReconcilerStore struct {
	*Store
}

// NewReconcilerStore wraps a Store for use by the reconciler.
func NewReconcilerStore(s *Store) ReconcilerStore {
	return ReconcilerStore{Store: s}
}

// ListForReconciliation implements reconciler.Store.
func (r ReconcilerStore) ListForReconciliation(ctx context.Context) ([]reconciler.ProjectRow, error) {
	rows, err := r.Store.ListForReconciliation(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]reconciler.ProjectRow, len(rows))
	for i, row := range rows {
		out[i] = reconciler.ProjectRow{
			ID:           row.ID,
			OwnerID:      row.OwnerID,
			Tier:         row.Tier,
			Status:       row.Status,
			IsLocked:     row.IsLocked,
			LastActiveAt: row.LastActiveAt,
			LastResetAt:  row.LastResetAt,
			DailyMinutes: row.DailyMinutes,
		}
	}
	return out, nil
}
