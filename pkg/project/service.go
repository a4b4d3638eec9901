package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/apperr"
	"github.com/CoderRahul01/unideploy/internal/db"
	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/pkg/deployment"
	"github.com/CoderRahul01/unideploy/pkg/intent"
	"github.com/CoderRahul01/unideploy/pkg/sandbox"
)

// Service implements the Project Lifecycle operations (create/start/stop),
// each serialized by the per-row lock described in §4.2.
type Service struct {
	pool      db.Beginner
	projects  *Store
	deploys   *deployment.Store
	pipeline  *deployment.Pipeline
	sandboxes sandbox.Provider
	limits    guard.Limits
	intentLog *intent.Writer
	logger    *slog.Logger
}

// NewService constructs a Service. intentLog may be nil to skip intent
// recording (e.g. in tests).
func NewService(pool db.Beginner, projects *Store, deploys *deployment.Store, pipeline *deployment.Pipeline, sandboxes sandbox.Provider, limits guard.Limits, intentLog *intent.Writer, logger *slog.Logger) *Service {
	return &Service{
		pool:      pool,
		projects:  projects,
		deploys:   deploys,
		pipeline:  pipeline,
		sandboxes: sandboxes,
		limits:    limits,
		intentLog: intentLog,
		logger:    logger,
	}
}

// logIntent records an intent-log entry, nil-safe.
func (s *Service) logIntent(actorSubject, action string, projectID int64, result string, detail any) {
	if s.intentLog == nil {
		return
	}
	s.intentLog.Log(intent.Entry{
		ActorSubject: actorSubject,
		Action:       action,
		ProjectID:    projectID,
		Result:       result,
		Detail:       intent.Detail(detail),
	})
}

// Create registers a new Project in status CREATED, gated by CanBuild
// (platform read-only / concurrent-build ceiling) since creation typically
// kicks off a first deployment.
func (s *Service) Create(ctx context.Context, ownerID int64, req CreateRequest) (Project, error) {
	actor := fmt.Sprintf("owner:%d", ownerID)
	if ok, reason, err := s.limits.CanBuild(ctx, s.projects); err != nil {
		return Project{}, fmt.Errorf("checking build admission: %w", err)
	} else if !ok {
		s.logIntent(actor, "create_project", 0, intent.ResultRejected, map[string]string{"reason": reason})
		return Project{}, apperr.New(apperr.KindPlatformBlocked, reason)
	}

	tier := req.Tier
	if tier == "" {
		tier = guard.TierSeed
	}

	params := CreateParams{OwnerID: ownerID, Name: req.Name, Tier: tier, EnvVars: req.EnvVars}
	if req.GitURL != "" {
		params.GitURL = &req.GitURL
	}
	if req.ProjectType != "" {
		params.ProjectType = &req.ProjectType
	}
	if req.Port != nil {
		params.Port = req.Port
	}

	p, err := s.projects.Create(ctx, params)
	if err != nil {
		if isUniqueViolation(err) {
			return Project{}, apperr.Conflict("a project with this name already exists")
		}
		return Project{}, fmt.Errorf("creating project: %w", err)
	}

	if req.GitURL != "" {
		d, err := s.deploys.Create(ctx, p.ID)
		if err != nil {
			return Project{}, fmt.Errorf("creating initial deployment: %w", err)
		}
		go s.pipeline.Run(context.Background(), deployment.RunInput{
			DeploymentID: d.ID,
			ProjectID:    p.ID,
			PriorStatus:  p.Status,
		})
	}

	s.logIntent(actor, "create_project", p.ID, intent.ResultSuccess, nil)
	return p, nil
}

// Start runs the §4.2 transaction template: lock the row, validate the
// transition, check CanStart, move to WAKING, commit, then launch the
// Pipeline against the Project's latest Deployment outside the transaction.
// On any fatal stage failure the Pipeline itself restores the prior status
// (§4.2 step 7) — this method's own transaction only covers the admission
// decision, never the deployment attempt itself.
func (s *Service) Start(ctx context.Context, ownerID, projectID int64) (Project, error) {
	actor := fmt.Sprintf("owner:%d", ownerID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, apperr.NotFound("project")
		}
		return Project{}, fmt.Errorf("locking project: %w", err)
	}
	if p.OwnerID != ownerID {
		return Project{}, apperr.New(apperr.KindUnauthorized, "not your project")
	}

	if p.IsLocked {
		s.logIntent(actor, "start_project", projectID, intent.ResultRejected, map[string]string{"reason": "project is locked"})
		return Project{}, apperr.Conflict("project is locked by an in-progress operation")
	}

	// Idempotent: starting an already-RUNNING project is a no-op success,
	// not a conflict (RUNNING -> WAKING is not itself a valid transition).
	if p.Status == guard.StatusRunning {
		return p, nil
	}

	if err := guard.ValidateTransition(p.Status, guard.StatusWaking); err != nil {
		s.logIntent(actor, "start_project", projectID, intent.ResultRejected, map[string]string{"reason": err.Error()})
		return Project{}, apperr.Conflict(err.Error())
	}

	txProjects := NewStore(tx)
	ok, reason, err := s.limits.CanStart(ctx, guard.ProjectForStart{
		OwnerID:             p.OwnerID,
		Tier:                p.Tier,
		DailyRuntimeMinutes: p.DailyRuntimeMinutes,
	}, txProjects)
	if err != nil {
		return Project{}, fmt.Errorf("checking start admission: %w", err)
	}
	if !ok {
		s.logIntent(actor, "start_project", projectID, intent.ResultRejected, map[string]string{"reason": reason})
		return Project{}, apperr.New(apperr.KindPlatformBlocked, reason)
	}

	priorStatus := p.Status
	if err := s.projects.SetLockAndStatus(ctx, tx, projectID, true, guard.StatusWaking); err != nil {
		return Project{}, fmt.Errorf("locking project row: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("committing start transaction: %w", err)
	}

	latest, err := s.deploys.GetLatestForProject(ctx, projectID)
	var deploymentID int64
	if err != nil {
		d, createErr := s.deploys.Create(ctx, projectID)
		if createErr != nil {
			return Project{}, fmt.Errorf("creating deployment for start: %w", createErr)
		}
		deploymentID = d.ID
	} else {
		deploymentID = latest.ID
	}

	go s.pipeline.Run(context.Background(), deployment.RunInput{
		DeploymentID: deploymentID,
		ProjectID:    projectID,
		PriorStatus:  priorStatus,
	})

	s.logIntent(actor, "start_project", projectID, intent.ResultSuccess, nil)
	p.Status = guard.StatusWaking
	p.IsLocked = true
	return p, nil
}

// Stop kills the Project's live sandbox and transitions it to SLEEPING.
// Unlike Start, Stop is synchronous: killing a sandbox is fast (§4.6),
// unlike the minutes a create/start pipeline run may take.
func (s *Service) Stop(ctx context.Context, ownerID, projectID int64) (Project, error) {
	actor := fmt.Sprintf("owner:%d", ownerID)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Project{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := s.projects.GetForUpdate(ctx, tx, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, apperr.NotFound("project")
		}
		return Project{}, fmt.Errorf("locking project: %w", err)
	}
	if p.OwnerID != ownerID {
		return Project{}, apperr.New(apperr.KindUnauthorized, "not your project")
	}

	if p.IsLocked {
		s.logIntent(actor, "stop_project", projectID, intent.ResultRejected, map[string]string{"reason": "project is locked"})
		return Project{}, apperr.Conflict("project is locked by an in-progress operation")
	}

	if err := guard.ValidateTransition(p.Status, guard.StatusSleeping); err != nil {
		s.logIntent(actor, "stop_project", projectID, intent.ResultRejected, map[string]string{"reason": err.Error()})
		return Project{}, apperr.Conflict(err.Error())
	}

	live, err := s.deploys.GetLatestLive(ctx, projectID)
	if err == nil && live.SandboxID != nil {
		if err := s.sandboxes.Kill(ctx, *live.SandboxID); err != nil {
			s.logger.Warn("killing sandbox on stop", "project_id", projectID, "sandbox_id", *live.SandboxID, "error", err)
		}
	}

	if err := s.projects.SetLockAndStatus(ctx, tx, projectID, false, guard.StatusSleeping); err != nil {
		return Project{}, fmt.Errorf("stopping project: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return Project{}, fmt.Errorf("committing stop transaction: %w", err)
	}

	s.logIntent(actor, "stop_project", projectID, intent.ResultSuccess, nil)
	p.Status = guard.StatusSleeping
	p.IsLocked = false
	return p, nil
}

// Get returns a Project by ID, checked for ownership.
func (s *Service) Get(ctx context.Context, ownerID, projectID int64) (Project, error) {
	p, err := s.projects.Get(ctx, projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Project{}, apperr.NotFound("project")
		}
		return Project{}, fmt.Errorf("getting project: %w", err)
	}
	if p.OwnerID != ownerID {
		return Project{}, apperr.New(apperr.KindUnauthorized, "not your project")
	}
	return p, nil
}

// List returns a page of the owner's Projects.
func (s *Service) List(ctx context.Context, ownerID int64, limit, offset int) ([]Project, int, error) {
	return s.projects.ListByOwner(ctx, ownerID, limit, offset)
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}
