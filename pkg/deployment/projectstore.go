package deployment

import (
	"context"
	"time"
)

// ProjectView is the Pipeline's read-only view of the Project driving a
// Deployment. It is intentionally a local type rather than an import of
// pkg/project, since pkg/project depends on this package (to launch
// Pipeline runs) and an import back would cycle.
type ProjectView struct {
	ID           int64
	OwnerID      int64
	Name         string
	GitURL       string
	Tier         string
	Port         int
	EnvVars      map[string]string
	Status       string
	LastActiveAt time.Time
}

// ProjectStore is the narrow slice of pkg/project.Store the Pipeline needs:
// enough to read the Project driving a run and to write back the two
// terminal transitions (§4.2, §4.3) it is responsible for.
type ProjectStore interface {
	GetView(ctx context.Context, id int64) (ProjectView, error)
	MarkRunning(ctx context.Context, id int64) error
	RollbackToStatus(ctx context.Context, id int64, status string) error
}

// AutoFixRequest is what the Pipeline hands to an AutoFixer when a build or
// deploy stage fails fatally (§4.8).
type AutoFixRequest struct {
	DeploymentID int64
	ProjectID    int64
	Workspace    string
	ErrorLog     string
}

// AutoFixResult is what comes back from an AutoFixer attempt.
type AutoFixResult struct {
	Attempted  bool
	FocusFile  string
	Suggestion string
	Patch      string
	Verified   bool
}

// PendingPatch is a file replacement queued for the next Pipeline run's
// workspace, produced by an AutoFix proposal or a manually accepted fix
// (§4.8). It survives the failed run whose workspace it was born in by
// living in the database until Redeploy applies it to a fresh clone.
type PendingPatch struct {
	FocusFile string
	Content   string
}

// AutoFixer is the Pipeline's narrow view of the AutoFix Flow (C9). Declared
// here rather than imported from pkg/autofix so neither package needs to
// know about the other's concrete types; the two are tied together only at
// wiring time in cmd/controlplane.
type AutoFixer interface {
	Attempt(ctx context.Context, req AutoFixRequest) (AutoFixResult, error)
}
