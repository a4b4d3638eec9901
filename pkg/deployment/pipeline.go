package deployment

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/pkg/build"
	"github.com/CoderRahul01/unideploy/pkg/intent"
	"github.com/CoderRahul01/unideploy/pkg/logbroker"
	"github.com/CoderRahul01/unideploy/pkg/notify"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

// OutcomeNotifier is the Pipeline's narrow view of notify.SlackNotifier,
// satisfied by *notify.SlackNotifier and nil-able so the pipeline runs
// without Slack configured.
type OutcomeNotifier interface {
	NotifyOutcome(ctx context.Context, outcome notify.Outcome)
}

// DeploymentStore is the Pipeline's narrow view of Store, satisfied by
// *Store and by test doubles.
type DeploymentStore interface {
	Create(ctx context.Context, projectID int64) (Deployment, error)
	Get(ctx context.Context, id int64) (Deployment, error)
	UpdateStatus(ctx context.Context, id int64, status string) error
	MarkLive(ctx context.Context, id int64, imageTag, sandboxID, domain string) error
	MarkFailed(ctx context.Context, id int64, errMessage string) error
	SetAutoFixResult(ctx context.Context, id int64, focusFile, suggestion, patch string) error
}

// BuildRunner is the Pipeline's narrow view of the Build Orchestrator (C5),
// satisfied by *build.Orchestrator and by test doubles.
type BuildRunner interface {
	Run(ctx context.Context, workspace, imageTag string, onLine func(line string)) (build.Result, error)
}

// VectorIndexer is the Pipeline's narrow view of the vector-index
// collaborator (§4.8's retrieval corpus). Indexing failures are logged and
// swallowed: a missing index degrades AutoFix quality, it never fails a
// deploy.
type VectorIndexer interface {
	Index(ctx context.Context, workspace string, projectID int64) error
}

// PipelineConfig holds the knobs the Pipeline needs beyond its collaborators.
type PipelineConfig struct {
	WorkspaceRoot   string
	ImageRegistry   string
	PublicSuffix    string
	DeploymentTotal *prometheus.CounterVec   // labels: status, tier
	DeployDuration  *prometheus.HistogramVec // labels: tier
	SandboxesActive prometheus.Gauge
}

// Pipeline runs the Deployment Pipeline (C6): the stage-by-stage
// orchestration that takes a Deployment from "queued" to "live" or "failed".
type Pipeline struct {
	cfg          PipelineConfig
	deployments  DeploymentStore
	projects     ProjectStore
	sandboxes    sandbox.Provider
	orchestrator BuildRunner
	index        VectorIndexer
	autofix      AutoFixer
	logs         *logbroker.Broker
	notifier     OutcomeNotifier
	intentLog    *intent.Writer
	ledger       *intent.CostLedger
	logger       *slog.Logger
}

// NewPipeline wires a Pipeline from its collaborators. index, autofix,
// notifier, intentLog, and ledger may be nil, in which case those
// stages/notifications/records are skipped.
func NewPipeline(
	cfg PipelineConfig,
	deployments DeploymentStore,
	projects ProjectStore,
	sandboxes sandbox.Provider,
	orchestrator BuildRunner,
	index VectorIndexer,
	autofix AutoFixer,
	logs *logbroker.Broker,
	notifier OutcomeNotifier,
	intentLog *intent.Writer,
	ledger *intent.CostLedger,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		deployments:  deployments,
		projects:     projects,
		sandboxes:    sandboxes,
		orchestrator: orchestrator,
		index:        index,
		autofix:      autofix,
		logs:         logs,
		notifier:     notifier,
		intentLog:    intentLog,
		ledger:       ledger,
		logger:       logger,
	}
}

// logIntent records an intent-log entry, nil-safe.
func (p *Pipeline) logIntent(action string, projectID, deploymentID int64, result string, detail any) {
	if p.intentLog == nil {
		return
	}
	p.intentLog.Log(intent.Entry{
		ActorSubject: "pipeline",
		Action:       action,
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Result:       result,
		Detail:       intent.Detail(detail),
	})
}

// RunInput is what a caller (the HTTP handler, or AutoFix's redeploy path)
// hands to Run.
type RunInput struct {
	DeploymentID int64
	ProjectID    int64
	// PriorStatus is the Project's status before Start() moved it to WAKING,
	// restored on a fatal failure (§4.2 step 7).
	PriorStatus string
	// RepoURLOverride, when set, is cloned instead of the Project's stored
	// git_url — used by POST /deploy/{project_id}/git for a one-off source.
	RepoURLOverride string
	// UploadPath, when set, points at an already-extracted source tree
	// (a direct file/zip upload) that stageClone copies into the workspace
	// instead of running git clone.
	UploadPath string
	// Patch, when set, is applied into the freshly prepared workspace after
	// cloning, overwriting FocusFile with Content — the AutoFix/apply-fix
	// redeploy path (§4.8).
	Patch *PendingPatch
}

// SetAutoFixer wires the AutoFix Flow in after construction, breaking the
// construction cycle between Pipeline (which the Flow redeploys through)
// and the Flow itself (which the Pipeline calls on a failed build).
func (p *Pipeline) SetAutoFixer(autofix AutoFixer) {
	p.autofix = autofix
}

// Redeploy creates a fresh Deployment for projectID and runs it in the
// background. It satisfies autofix.Redeployer, letting a verified AutoFix
// proposal trigger a new attempt without the autofix package importing
// this one.
func (p *Pipeline) Redeploy(ctx context.Context, projectID int64, patch *PendingPatch) error {
	proj, err := p.projects.GetView(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project for redeploy: %w", err)
	}
	d, err := p.deployments.Create(ctx, projectID)
	if err != nil {
		return fmt.Errorf("creating redeploy: %w", err)
	}
	go p.Run(newBackgroundContext(), RunInput{DeploymentID: d.ID, ProjectID: projectID, PriorStatus: proj.Status, Patch: patch})
	return nil
}

// Run drives one Deployment through every stage. It is meant to be called
// in its own goroutine rooted in a background context: HTTP handlers do not
// cancel an in-flight deployment when the client disconnects (§5).
func (p *Pipeline) Run(ctx context.Context, in RunInput) {
	log := p.logger.With("deployment_id", in.DeploymentID, "project_id", in.ProjectID)

	proj, err := p.projects.GetView(ctx, in.ProjectID)
	if err != nil {
		log.Error("loading project for pipeline run", "error", err)
		p.fail(ctx, in, "loading project: "+err.Error())
		return
	}

	sandboxActivated := false

	workspace, err := p.stageClone(ctx, in, proj, log)
	if err != nil {
		p.failAndRollback(ctx, in, proj, err.Error(), sandboxActivated)
		return
	}
	if workspace != "" {
		defer os.RemoveAll(workspace)
	}

	imageTag, err := p.stageBuild(ctx, in, proj, workspace, log)
	if err != nil {
		p.failAndRollback(ctx, in, proj, err.Error(), sandboxActivated)
		return
	}

	p.stageIndex(ctx, in, workspace, log)

	start := time.Now()
	instance, err := p.stageDeploy(ctx, in, proj, imageTag, log)
	if err != nil {
		p.failAndRollback(ctx, in, proj, err.Error(), sandboxActivated)
		return
	}
	sandboxActivated = true
	if p.cfg.SandboxesActive != nil {
		p.cfg.SandboxesActive.Inc()
	}

	domain := deriveDomain(proj.Name, p.cfg.PublicSuffix)
	if err := p.deployments.MarkLive(ctx, in.DeploymentID, imageTag, instance.ID, domain); err != nil {
		log.Error("marking deployment live", "error", err)
	}
	if err := p.projects.MarkRunning(ctx, in.ProjectID); err != nil {
		log.Error("marking project running", "error", err)
	}

	if p.cfg.DeploymentTotal != nil {
		p.cfg.DeploymentTotal.WithLabelValues("live", proj.Tier).Inc()
	}
	if p.cfg.DeployDuration != nil {
		p.cfg.DeployDuration.WithLabelValues(proj.Tier).Observe(time.Since(start).Seconds())
	}
	p.broadcastSystem(ctx, in.DeploymentID, fmt.Sprintf("deployment live at https://%s", domain))
	if p.notifier != nil {
		p.notifier.NotifyOutcome(ctx, notify.Outcome{
			ProjectName:  proj.Name,
			DeploymentID: in.DeploymentID,
			Status:       "live",
			Domain:       domain,
		})
	}

	// Initial 60s charge for the deployment going live (§4.3 step 5); the
	// reconciler's per-tick minutes take over billing from here.
	if p.ledger != nil {
		if err := p.ledger.Append(intent.CostRecord{
			Timestamp: time.Now(),
			OwnerID:   proj.OwnerID,
			ProjectID: in.ProjectID,
			Tier:      proj.Tier,
			Minutes:   1,
		}); err != nil {
			log.Warn("appending go-live cost record", "error", err)
		}
	}
	p.logIntent("deploy", in.ProjectID, in.DeploymentID, intent.ResultSuccess, map[string]string{"domain": domain})
}

// stageClone handles queued -> cloning. It creates the Deployment's workspace
// and fills it by copying in.UploadPath when set, otherwise by cloning
// in.RepoURLOverride or the Project's git_url; with neither an upload nor a
// repository URL the workspace stays empty. A pending AutoFix patch is then
// written into it.
func (p *Pipeline) stageClone(ctx context.Context, in RunInput, proj ProjectView, log *slog.Logger) (string, error) {
	if err := p.transition(ctx, in.DeploymentID, guard.DeployCloning, log); err != nil {
		return "", err
	}

	workspace := filepath.Join(p.cfg.WorkspaceRoot, fmt.Sprintf("deployment-%d", in.DeploymentID))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return "", fmt.Errorf("preparing workspace: %w", err)
	}

	switch {
	case in.UploadPath != "":
		p.broadcastSystem(ctx, in.DeploymentID, "using uploaded source")
		if err := copyTree(in.UploadPath, workspace); err != nil {
			return "", fmt.Errorf("copying uploaded source: %w", err)
		}
	default:
		repoURL := in.RepoURLOverride
		if repoURL == "" {
			repoURL = proj.GitURL
		}
		if repoURL != "" {
			p.broadcastSystem(ctx, in.DeploymentID, "cloning "+repoURL)
			cmd := exec.CommandContext(ctx, "git", "clone", "--depth", "1", repoURL, workspace)
			output, err := cmd.CombinedOutput()
			if err != nil {
				return "", fmt.Errorf("git clone failed: %w: %s", err, string(output))
			}
		}
	}

	if in.Patch != nil {
		if err := applyPendingPatch(workspace, in.Patch); err != nil {
			return "", fmt.Errorf("applying autofix patch: %w", err)
		}
		p.broadcastSystem(ctx, in.DeploymentID, "applied autofix patch to "+in.Patch.FocusFile)
	}

	return workspace, nil
}

// stageBuild handles cloning -> building (C5).
func (p *Pipeline) stageBuild(ctx context.Context, in RunInput, proj ProjectView, workspace string, log *slog.Logger) (string, error) {
	if err := p.transition(ctx, in.DeploymentID, guard.DeployBuilding, log); err != nil {
		return "", err
	}

	imageTag := fmt.Sprintf("unideploy/%d:%d", in.ProjectID, in.DeploymentID)
	onLine := func(line string) {
		p.logs.Publish(ctx, logbroker.Line{DeploymentID: in.DeploymentID, Stream: "stdout", Text: line})
	}

	result, err := p.orchestrator.Run(ctx, workspace, imageTag, onLine)
	if err != nil {
		return "", fmt.Errorf("build failed: %w", err)
	}

	pushed, err := build.PushToRegistry(result.ImageTag, p.cfg.ImageRegistry)
	if err != nil {
		log.Warn("pushing image to registry, continuing with local tag", "error", err)
		return result.ImageTag, nil
	}
	return pushed, nil
}

// stageIndex handles building -> indexing. Failure here is logged and
// swallowed (§4.8): a stale or missing index degrades AutoFix, it never
// fails the deploy.
func (p *Pipeline) stageIndex(ctx context.Context, in RunInput, workspace string, log *slog.Logger) {
	if err := p.transition(ctx, in.DeploymentID, guard.DeployIndexing, log); err != nil {
		return
	}
	if p.index == nil {
		return
	}
	if err := p.index.Index(ctx, workspace, in.ProjectID); err != nil {
		log.Warn("indexing workspace for autofix retrieval", "error", err)
	}
}

// stageDeploy handles indexing -> deploying (C3).
func (p *Pipeline) stageDeploy(ctx context.Context, in RunInput, proj ProjectView, imageTag string, log *slog.Logger) (sandbox.Instance, error) {
	if err := p.transition(ctx, in.DeploymentID, guard.DeployDeploying, log); err != nil {
		return sandbox.Instance{}, err
	}

	p.broadcastSystem(ctx, in.DeploymentID, "starting sandbox")
	instance, err := p.sandboxes.Create(ctx, sandbox.CreateRequest{
		RepoURL:  proj.GitURL,
		ImageTag: imageTag,
		EnvVars:  proj.EnvVars,
		Tier:     sandbox.Tier(proj.Tier),
		OnStdout: func(line string) {
			p.logs.Publish(ctx, logbroker.Line{DeploymentID: in.DeploymentID, Stream: "stdout", Text: line})
		},
		OnStderr: func(line string) {
			p.logs.Publish(ctx, logbroker.Line{DeploymentID: in.DeploymentID, Stream: "stderr", Text: line})
		},
	})
	if err != nil {
		return sandbox.Instance{}, fmt.Errorf("creating sandbox: %w", err)
	}
	if instance.Status != "running" {
		return sandbox.Instance{}, fmt.Errorf("sandbox reported status %q", instance.Status)
	}
	return instance, nil
}

func (p *Pipeline) transition(ctx context.Context, deploymentID int64, target string, log *slog.Logger) error {
	current, err := p.deployments.Get(ctx, deploymentID)
	if err != nil {
		return fmt.Errorf("loading deployment: %w", err)
	}
	if err := guard.ValidateDeploymentTransition(current.Status, target); err != nil {
		return err
	}
	if err := p.deployments.UpdateStatus(ctx, deploymentID, target); err != nil {
		return fmt.Errorf("updating deployment status: %w", err)
	}
	p.broadcastSystem(ctx, deploymentID, "status: "+target)
	log.Info("deployment transition", "status", target)
	return nil
}

// failAndRollback marks the deployment failed, attempts AutoFix, and
// restores the project's prior status (§4.2 step 7, §4.8).
func (p *Pipeline) failAndRollback(ctx context.Context, in RunInput, proj ProjectView, reason string, sandboxActivated bool) {
	p.fail(ctx, in, reason)

	if p.notifier != nil {
		p.notifier.NotifyOutcome(ctx, notify.Outcome{
			ProjectName:  proj.Name,
			DeploymentID: in.DeploymentID,
			Status:       "failed",
			FailReason:   reason,
		})
	}

	if sandboxActivated && p.cfg.SandboxesActive != nil {
		p.cfg.SandboxesActive.Dec()
	}
	if p.cfg.DeploymentTotal != nil {
		p.cfg.DeploymentTotal.WithLabelValues("failed", proj.Tier).Inc()
	}

	if p.autofix != nil {
		workspace := filepath.Join(p.cfg.WorkspaceRoot, fmt.Sprintf("deployment-%d", in.DeploymentID))
		result, err := p.autofix.Attempt(ctx, AutoFixRequest{
			DeploymentID: in.DeploymentID,
			ProjectID:    in.ProjectID,
			Workspace:    workspace,
			ErrorLog:     reason,
		})
		if err != nil {
			p.logger.Warn("autofix attempt failed", "deployment_id", in.DeploymentID, "error", err)
		} else if result.Attempted {
			p.broadcastSystem(ctx, in.DeploymentID, fmt.Sprintf("autofix proposed a change to %s (verified=%v)", result.FocusFile, result.Verified))
			if result.FocusFile != "" {
				if err := p.deployments.SetAutoFixResult(ctx, in.DeploymentID, result.FocusFile, result.Suggestion, result.Patch); err != nil {
					p.logger.Warn("persisting autofix result", "deployment_id", in.DeploymentID, "error", err)
				}
			}
		}
	}

	prior := in.PriorStatus
	if prior == "" {
		prior = guard.StatusCreated
	}
	if err := p.projects.RollbackToStatus(ctx, in.ProjectID, prior); err != nil {
		p.logger.Error("rolling back project status", "project_id", in.ProjectID, "error", err)
	}
}

func (p *Pipeline) fail(ctx context.Context, in RunInput, reason string) {
	if err := p.deployments.MarkFailed(ctx, in.DeploymentID, reason); err != nil {
		p.logger.Error("marking deployment failed", "deployment_id", in.DeploymentID, "error", err)
	}
	p.broadcastSystem(ctx, in.DeploymentID, "failed: "+reason)
	p.logIntent("deploy", in.ProjectID, in.DeploymentID, intent.ResultFailed, map[string]string{"reason": reason})
}

func (p *Pipeline) broadcastSystem(ctx context.Context, deploymentID int64, text string) {
	if p.logs == nil {
		return
	}
	p.logs.Publish(ctx, logbroker.Line{DeploymentID: deploymentID, Stream: "system", Text: text})
}
