// Package reconciler implements the Maintenance Loop (C8): a background
// ticker that enforces runtime quotas, forces idle projects to sleep, and
// corrects drift between the database's believed state and the sandbox
// provider's actual state. Modeled on the reference platform's escalation
// engine loop.
package reconciler

import (
	"context"
	"log/slog"
	"time"

	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/pkg/intent"
)

// ProjectRow mirrors pkg/project.Store.ProjectRow; declared locally so this
// package never imports pkg/project (which imports pkg/deployment, which in
// turn would otherwise need to know about the reconciler).
type ProjectRow struct {
	ID           int64
	OwnerID      int64
	Tier         string
	Status       string
	IsLocked     bool
	LastActiveAt time.Time
	LastResetAt  time.Time
	DailyMinutes int
}

// Store is the narrow persistence view the reconciler needs.
type Store interface {
	ListForReconciliation(ctx context.Context) ([]ProjectRow, error)
	DriftUpdateStatus(ctx context.Context, id int64, status string) error
	AddRuntimeMinutes(ctx context.Context, id int64, tickMinutes int) error
	ForceSleep(ctx context.Context, id int64) error
	ResetDailyRuntime(ctx context.Context, id int64) error
}

// SandboxLister is the narrow sandbox.Provider view needed for drift
// detection: which sandboxes does the provider believe are actually alive.
type SandboxLister interface {
	ListActive(ctx context.Context) ([]string, error)
}

// SandboxKiller force-stops a runaway sandbox found during reconciliation
// (a Project believed SLEEPING whose sandbox is still running).
type SandboxKiller interface {
	Kill(ctx context.Context, id string) error
}

// LiveDeploymentLister is the narrow deployment.Store view needed to map a
// live Project back to the sandbox ID it should have.
type LiveDeploymentLister interface {
	ListLiveWithDomain(ctx context.Context) ([]DeploymentRow, error)
}

// DeploymentRow is the reconciler's view of a live Deployment.
type DeploymentRow struct {
	ProjectID int64
	SandboxID string
}

// Reconciler runs the maintenance tick on an interval.
type Reconciler struct {
	store       Store
	sandboxes   SandboxLister
	killer      SandboxKiller
	deployments LiveDeploymentLister
	ledger      *intent.CostLedger
	intentLog   *intent.Writer
	interval    time.Duration
	idleAfter   time.Duration
	dailyLimit  int
	logger      *slog.Logger
}

// New constructs a Reconciler. ledger may be nil to skip cost accounting and
// intentLog may be nil to skip intent recording.
func New(store Store, sandboxes SandboxLister, killer SandboxKiller, deployments LiveDeploymentLister, ledger *intent.CostLedger, intentLog *intent.Writer, interval, idleAfter time.Duration, dailyLimitMinutes int, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		store:       store,
		sandboxes:   sandboxes,
		killer:      killer,
		deployments: deployments,
		ledger:      ledger,
		intentLog:   intentLog,
		interval:    interval,
		idleAfter:   idleAfter,
		dailyLimit:  dailyLimitMinutes,
		logger:      logger,
	}
}

// logIntent records an intent-log entry, nil-safe.
func (rc *Reconciler) logIntent(projectID int64, result string, detail any) {
	if rc.intentLog == nil {
		return
	}
	rc.intentLog.Log(intent.Entry{
		ActorSubject: "reconciler",
		Action:       "reconciler_drift",
		ProjectID:    projectID,
		Result:       result,
		Detail:       intent.Detail(detail),
	})
}

// Run blocks until ctx is cancelled, ticking at the configured interval.
func (rc *Reconciler) Run(ctx context.Context) error {
	rc.logger.Info("reconciler started", "interval", rc.interval)

	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rc.logger.Info("reconciler stopped")
			return nil
		case <-ticker.C:
			if err := rc.tick(ctx); err != nil {
				rc.logger.Error("reconciler tick", "error", err)
			}
		}
	}
}

// tick runs one maintenance pass over every Project, isolating failures per
// project so one bad row never blocks the rest of the fleet (§4.4).
func (rc *Reconciler) tick(ctx context.Context) error {
	rows, err := rc.store.ListForReconciliation(ctx)
	if err != nil {
		return err
	}

	tickMinutes := int(rc.interval / time.Minute)
	if tickMinutes < 1 {
		tickMinutes = 1
	}

	liveSandboxIDs := rc.actualLiveSandboxes(ctx)

	haveDeploymentData := rc.deployments != nil
	var live []DeploymentRow
	sandboxByProject := make(map[int64]string)
	if haveDeploymentData {
		var err error
		live, err = rc.deployments.ListLiveWithDomain(ctx)
		if err != nil {
			rc.logger.Warn("listing live deployments for drift check", "error", err)
			haveDeploymentData = false
		}
		for _, d := range live {
			if d.SandboxID == "" {
				continue
			}
			sandboxByProject[d.ProjectID] = d.SandboxID
		}
	}

	for _, row := range rows {
		if err := rc.processProject(ctx, row, tickMinutes, liveSandboxIDs, sandboxByProject, haveDeploymentData); err != nil {
			rc.logger.Error("reconciling project", "project_id", row.ID, "error", err)
		}
	}

	rc.correctDrift(ctx, rows, liveSandboxIDs, live)
	return nil
}

// correctDrift kills any sandbox the provider reports running whose Project
// the database believes is no longer RUNNING (§4.4 step 7): the Project
// row, not the provider, is authoritative for desired state.
func (rc *Reconciler) correctDrift(ctx context.Context, rows []ProjectRow, liveSandboxIDs map[string]struct{}, live []DeploymentRow) {
	if rc.deployments == nil || rc.killer == nil {
		return
	}

	statusByProject := make(map[int64]string, len(rows))
	for _, row := range rows {
		statusByProject[row.ID] = row.Status
	}

	for _, d := range live {
		if d.SandboxID == "" {
			continue
		}
		if _, alive := liveSandboxIDs[d.SandboxID]; !alive {
			continue
		}
		if statusByProject[d.ProjectID] == guard.StatusRunning {
			continue
		}
		rc.logger.Warn("killing drifted sandbox for non-running project", "project_id", d.ProjectID, "sandbox_id", d.SandboxID)
		if err := rc.killer.Kill(ctx, d.SandboxID); err != nil {
			rc.logger.Error("killing drifted sandbox", "sandbox_id", d.SandboxID, "error", err)
		}
	}
}

func (rc *Reconciler) actualLiveSandboxes(ctx context.Context) map[string]struct{} {
	set := make(map[string]struct{})
	if rc.sandboxes == nil {
		return set
	}
	ids, err := rc.sandboxes.ListActive(ctx)
	if err != nil {
		rc.logger.Warn("listing active sandboxes", "error", err)
		return set
	}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

// processProject applies steps 2-6 of §4.4 to a single Project row.
func (rc *Reconciler) processProject(ctx context.Context, row ProjectRow, tickMinutes int, liveSandboxIDs map[string]struct{}, sandboxByProject map[int64]string, haveDeploymentData bool) error {
	// Daily quota reset: a new day since last_reset_at.
	if time.Since(row.LastResetAt) >= 24*time.Hour {
		if err := rc.store.ResetDailyRuntime(ctx, row.ID); err != nil {
			return err
		}
		row.DailyMinutes = 0
	}

	if row.Status != guard.StatusRunning {
		return nil
	}

	// Drift: the database believes this Project is RUNNING but the sandbox
	// provider's list_active() disagrees. The Project row loses (§4.4 step 2)
	// — effective status flips to SLEEPING and minute accrual is skipped for
	// this tick.
	if !sandboxConfirmedLive(row.ID, liveSandboxIDs, sandboxByProject, haveDeploymentData) {
		rc.logger.Warn("correcting drift: project believed running has no live sandbox", "project_id", row.ID)
		if err := rc.store.DriftUpdateStatus(ctx, row.ID, guard.StatusSleeping); err != nil {
			return err
		}
		rc.logIntent(row.ID, intent.ResultSuccess, map[string]string{"from": guard.StatusRunning, "to": guard.StatusSleeping})
		return nil
	}

	// Idle timeout: no activity for idleAfter.
	if rc.idleAfter > 0 && time.Since(row.LastActiveAt) >= rc.idleAfter {
		rc.logger.Info("forcing idle project to sleep", "project_id", row.ID)
		return rc.store.ForceSleep(ctx, row.ID)
	}

	// Daily runtime quota exhausted.
	newTotal := row.DailyMinutes + tickMinutes
	if rc.dailyLimit > 0 && newTotal >= rc.dailyLimit {
		rc.logger.Info("forcing project to sleep on daily runtime quota", "project_id", row.ID)
		if err := rc.store.ForceSleep(ctx, row.ID); err != nil {
			return err
		}
	}

	if err := rc.store.AddRuntimeMinutes(ctx, row.ID, tickMinutes); err != nil {
		return err
	}
	rc.recordCost(row, tickMinutes)
	return nil
}

// sandboxConfirmedLive reports whether projectID's sandbox is confirmed
// alive by the provider. Without deployment data to map a Project to its
// sandbox ID, there is no drift signal available, so the persisted status is
// trusted (haveDeploymentData=false always reports confirmed).
func sandboxConfirmedLive(projectID int64, liveSandboxIDs map[string]struct{}, sandboxByProject map[int64]string, haveDeploymentData bool) bool {
	if !haveDeploymentData {
		return true
	}
	sandboxID, ok := sandboxByProject[projectID]
	if !ok {
		return false
	}
	_, alive := liveSandboxIDs[sandboxID]
	return alive
}

// recordCost appends a CostRecord for a tick of runtime, best-effort: a
// missing or unwritable ledger never blocks the maintenance loop.
func (rc *Reconciler) recordCost(row ProjectRow, tickMinutes int) {
	if rc.ledger == nil {
		return
	}
	rec := intent.CostRecord{
		Timestamp: time.Now(),
		OwnerID:   row.OwnerID,
		ProjectID: row.ID,
		Tier:      row.Tier,
		Minutes:   tickMinutes,
	}
	if err := rc.ledger.Append(rec); err != nil {
		rc.logger.Warn("appending cost record", "project_id", row.ID, "error", err)
	}
}
