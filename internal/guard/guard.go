// Package guard implements the pure admission predicates (C1) that gate
// every state-mutating operation on the Project/Deployment lifecycle.
// Guards read configuration and, where noted, consult a store handle for a
// count; they perform no writes.
package guard

import (
	"context"
	"fmt"
)

// Limits holds the configurable admission thresholds. Defaults mirror the
// reference platform's environment variables.
type Limits struct {
	ReadOnly              bool
	MaxUploadBytes        int64
	MaxConcurrentBuilds   int
	PlatformMaxRunning    int
	DailyRuntimeLimitMins int
	MaxSeedRunningPerOwner int
}

// DefaultLimits returns the reference defaults.
func DefaultLimits() Limits {
	return Limits{
		MaxUploadBytes:         10 * 1024 * 1024,
		MaxConcurrentBuilds:    5,
		PlatformMaxRunning:     40,
		DailyRuntimeLimitMins:  60,
		MaxSeedRunningPerOwner: 1,
	}
}

// Store is the narrow read-only view the guards need from the persistence
// layer. Implemented by pkg/project.Store.
type Store interface {
	CountDeploymentsByStatus(ctx context.Context, status string) (int, error)
	CountRunningProjects(ctx context.Context) (int, error)
	CountRunningSeedProjectsForOwner(ctx context.Context, ownerID int64) (int, error)
}

// IsReadOnly reports whether the platform is in read-only mode.
func (l Limits) IsReadOnly() bool { return l.ReadOnly }

// ValidateUpload rejects uploads larger than MaxUploadBytes.
func (l Limits) ValidateUpload(size int64) (bool, string) {
	if size > l.MaxUploadBytes {
		return false, fmt.Sprintf("upload of %d bytes exceeds the %d byte limit", size, l.MaxUploadBytes)
	}
	return true, ""
}

// CanBuild rejects new builds when the platform is read-only or the
// concurrent-build ceiling has been reached.
func (l Limits) CanBuild(ctx context.Context, store Store) (bool, string, error) {
	if l.ReadOnly {
		return false, "platform is in read-only mode", nil
	}
	building, err := store.CountDeploymentsByStatus(ctx, "building")
	if err != nil {
		return false, "", fmt.Errorf("counting building deployments: %w", err)
	}
	if building >= l.MaxConcurrentBuilds {
		return false, "maximum concurrent builds reached", nil
	}
	return true, "", nil
}

// ProjectForStart is the subset of Project fields CanStart needs.
type ProjectForStart struct {
	OwnerID             int64
	Tier                string
	DailyRuntimeMinutes int
}

// CanStart rejects start requests when the platform is read-only, the
// owner's daily runtime quota is exhausted, the platform-wide RUNNING
// ceiling is reached, or (for SEED tier) the owner already has another
// Project RUNNING (I4/P5).
func (l Limits) CanStart(ctx context.Context, p ProjectForStart, store Store) (bool, string, error) {
	if l.ReadOnly {
		return false, "platform is in read-only mode", nil
	}
	if p.DailyRuntimeMinutes >= l.DailyRuntimeLimitMins {
		return false, "daily runtime quota exhausted", nil
	}

	running, err := store.CountRunningProjects(ctx)
	if err != nil {
		return false, "", fmt.Errorf("counting running projects: %w", err)
	}
	if running >= l.PlatformMaxRunning {
		return false, "platform running-project ceiling reached", nil
	}

	if p.Tier == TierSeed {
		seedRunning, err := store.CountRunningSeedProjectsForOwner(ctx, p.OwnerID)
		if err != nil {
			return false, "", fmt.Errorf("counting seed-tier running projects: %w", err)
		}
		if seedRunning >= l.MaxSeedRunningPerOwner {
			return false, "another SEED-tier project for this owner is already running", nil
		}
	}

	return true, "", nil
}

// Tiers, in ascending resource order (SEED ≤ LAUNCH ≤ SCALE).
const (
	TierSeed   = "SEED"
	TierLaunch = "LAUNCH"
	TierScale  = "SCALE"
)

// Project statuses, per §4.2/§3.
const (
	StatusCreated  = "CREATED"
	StatusBuilt    = "BUILT"
	StatusWaking   = "WAKING"
	StatusRunning  = "RUNNING"
	StatusSleeping = "SLEEPING"
)

// allowedTransitions is the adjacency table from §4.1.
var allowedTransitions = map[string]map[string]struct{}{
	StatusCreated:  {StatusBuilt: {}},
	StatusBuilt:    {StatusWaking: {}, StatusRunning: {}},
	StatusWaking:   {StatusRunning: {}, StatusSleeping: {}},
	StatusRunning:  {StatusSleeping: {}},
	StatusSleeping: {StatusWaking: {}},
}

// ErrIllegalTransition is returned by ValidateTransition for any edge not
// present in the adjacency table (and not a same-state identity transition).
type ErrIllegalTransition struct {
	From, To string
}

func (e *ErrIllegalTransition) Error() string {
	return fmt.Sprintf("illegal transition: %s -> %s", e.From, e.To)
}

// ValidateTransition reports whether moving a Project from current to target
// is legal. Identity transitions (current == target) are always allowed.
func ValidateTransition(current, target string) error {
	if current == target {
		return nil
	}
	edges, ok := allowedTransitions[current]
	if !ok {
		return &ErrIllegalTransition{From: current, To: target}
	}
	if _, ok := edges[target]; !ok {
		return &ErrIllegalTransition{From: current, To: target}
	}
	return nil
}

// Deployment statuses, per §3/§4.3.
const (
	DeployQueued    = "queued"
	DeployCloning   = "cloning"
	DeployBuilding  = "building"
	DeployIndexing  = "indexing"
	DeployDeploying = "deploying"
	DeployLive      = "live"
	DeployFailed    = "failed"
)

// deploymentOrder is the monotone sequence a Deployment's status follows
// (P1), excluding the terminal "failed" state reachable from any point.
var deploymentOrder = []string{
	DeployQueued, DeployCloning, DeployBuilding, DeployIndexing, DeployDeploying, DeployLive,
}

// ValidateDeploymentTransition enforces P1: forward-only progression through
// deploymentOrder, or a transition to "failed" from any non-terminal status.
func ValidateDeploymentTransition(current, target string) error {
	if target == DeployFailed {
		if current == DeployLive || current == DeployFailed {
			return &ErrIllegalTransition{From: current, To: target}
		}
		return nil
	}

	curIdx, targetIdx := -1, -1
	for i, s := range deploymentOrder {
		if s == current {
			curIdx = i
		}
		if s == target {
			targetIdx = i
		}
	}
	if curIdx == -1 || targetIdx == -1 || targetIdx != curIdx+1 {
		return &ErrIllegalTransition{From: current, To: target}
	}
	return nil
}
