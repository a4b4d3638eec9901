package project

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/db"
	"github.com/CoderRahul01/unideploy/pkg/deployment"
)

// Store provides database operations for projects. It is constructed either
// over the pool (autocommit reads) or over an open transaction (the §4.2
// transaction template).
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a project Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const projectColumns = `id, owner_id, name, git_url, project_type, port, tier, env_vars,
	status, is_locked, last_active_at, daily_runtime_minutes, total_runtime_minutes,
	last_reset_at, created_at`

func scanProject(row pgx.Row) (Project, error) {
	var p Project
	var envVars []byte
	err := row.Scan(
		&p.ID, &p.OwnerID, &p.Name, &p.GitURL, &p.ProjectType, &p.Port, &p.Tier, &envVars,
		&p.Status, &p.IsLocked, &p.LastActiveAt, &p.DailyRuntimeMinutes, &p.TotalRuntimeMinutes,
		&p.LastResetAt, &p.CreatedAt,
	)
	if err != nil {
		return Project{}, err
	}
	if len(envVars) > 0 {
		if err := json.Unmarshal(envVars, &p.EnvVars); err != nil {
			return Project{}, fmt.Errorf("decoding env_vars: %w", err)
		}
	}
	return p, nil
}

// CreateParams holds the parameters for creating a Project.
type CreateParams struct {
	OwnerID     int64
	Name        string
	GitURL      *string
	ProjectType *string
	Port        *int
	Tier        string
	EnvVars     map[string]string
}

// Create inserts a new Project in status CREATED. Name uniqueness per owner
// is enforced by a unique index on (owner_id, name); callers should surface
// a unique_violation as apperr.Conflict.
func (s *Store) Create(ctx context.Context, p CreateParams) (Project, error) {
	envVars, err := json.Marshal(p.EnvVars)
	if err != nil {
		return Project{}, fmt.Errorf("encoding env_vars: %w", err)
	}

	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO projects (owner_id, name, git_url, project_type, port, tier, env_vars, status, last_active_at, last_reset_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'CREATED', now(), now())
		RETURNING `+projectColumns,
		p.OwnerID, p.Name, p.GitURL, p.ProjectType, p.Port, p.Tier, envVars,
	)
	return scanProject(row)
}

// Get returns a Project by ID without locking.
func (s *Store) Get(ctx context.Context, id int64) (Project, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id)
	return scanProject(row)
}

// GetForUpdate locks the Project row for the duration of the caller's
// transaction (step 1 of the §4.2 template). dbtx must be an open pgx.Tx.
func (s *Store) GetForUpdate(ctx context.Context, tx db.DBTX, id int64) (Project, error) {
	row := tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id)
	return scanProject(row)
}

// ListByOwner returns a page of Projects owned by ownerID, most recent first.
func (s *Store) ListByOwner(ctx context.Context, ownerID int64, limit, offset int) ([]Project, int, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+projectColumns+` FROM projects
		WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		ownerID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var items []Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning project: %w", err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating projects: %w", err)
	}

	for i := range items {
		err := s.dbtx.QueryRow(ctx,
			`SELECT id FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
			items[i].ID).Scan(&items[i].LatestDeploymentID)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("finding latest deployment: %w", err)
		}
	}

	var total int
	if err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM projects WHERE owner_id = $1`, ownerID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting projects: %w", err)
	}

	return items, total, nil
}

// SetLockAndStatus writes the intermediate/terminal state during the
// transaction template (steps 4, 6, 7). dbtx must be an open pgx.Tx for
// steps 4/6/7, or the pool for reconciler drift corrections.
func (s *Store) SetLockAndStatus(ctx context.Context, tx db.DBTX, id int64, locked bool, status string) error {
	_, err := tx.Exec(ctx, `UPDATE projects SET is_locked = $2, status = $3 WHERE id = $1`, id, locked, status)
	if err != nil {
		return fmt.Errorf("updating project lock/status: %w", err)
	}
	return nil
}

// TouchLastActive updates last_active_at to now.
func (s *Store) TouchLastActive(ctx context.Context, tx db.DBTX, id int64) error {
	_, err := tx.Exec(ctx, `UPDATE projects SET last_active_at = now() WHERE id = $1`, id)
	return err
}

// GetView implements deployment.ProjectStore: a read-only projection handed
// to the Pipeline so it never needs the full Project type or this package.
func (s *Store) GetView(ctx context.Context, id int64) (deployment.ProjectView, error) {
	p, err := s.Get(ctx, id)
	if err != nil {
		return deployment.ProjectView{}, err
	}
	v := deployment.ProjectView{
		ID:           p.ID,
		OwnerID:      p.OwnerID,
		Name:         p.Name,
		Tier:         p.Tier,
		EnvVars:      p.EnvVars,
		Status:       p.Status,
		LastActiveAt: p.LastActiveAt,
	}
	if p.GitURL != nil {
		v.GitURL = *p.GitURL
	}
	if p.Port != nil {
		v.Port = *p.Port
	}
	return v, nil
}

// MarkRunning implements deployment.ProjectStore: clears the lock, sets
// status to RUNNING, and updates last_active_at. Called by the pipeline on
// the deploy stage's success (§4.3 step 5).
func (s *Store) MarkRunning(ctx context.Context, projectID int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE projects SET is_locked = false, status = 'RUNNING', last_active_at = now() WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("marking project running: %w", err)
	}
	return nil
}

// RollbackToStatus implements deployment.ProjectStore: clears the lock and
// restores the pre-call status. Called by the pipeline when a fatal stage
// fails after Start() had moved the Project to WAKING (§4.2 step 7).
func (s *Store) RollbackToStatus(ctx context.Context, projectID int64, status string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE projects SET is_locked = false, status = $2 WHERE id = $1`, projectID, status)
	if err != nil {
		return fmt.Errorf("rolling back project status: %w", err)
	}
	return nil
}

// --- guard.Store implementation ---

// CountDeploymentsByStatus counts Deployment rows in the given status,
// across all projects (used by the build-concurrency guard).
func (s *Store) CountDeploymentsByStatus(ctx context.Context, status string) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM deployments WHERE status = $1`, status).Scan(&n)
	return n, err
}

// CountRunningProjects counts Projects with status=RUNNING platform-wide.
func (s *Store) CountRunningProjects(ctx context.Context) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx, `SELECT count(*) FROM projects WHERE status = 'RUNNING'`).Scan(&n)
	return n, err
}

// CountRunningSeedProjectsForOwner counts the owner's SEED-tier Projects
// currently RUNNING (I4/P5).
func (s *Store) CountRunningSeedProjectsForOwner(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.dbtx.QueryRow(ctx,
		`SELECT count(*) FROM projects WHERE owner_id = $1 AND tier = 'SEED' AND status = 'RUNNING'`,
		ownerID).Scan(&n)
	return n, err
}

// --- reconciler read access ---

// ProjectRow is the reconciler's view of a Project for a single tick.
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

// ListForReconciliation returns every Project, for the reconciler's tick.
func (s *Store) ListForReconciliation(ctx context.Context) ([]ProjectRow, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT id, owner_id, tier, status, is_locked, last_active_at, last_reset_at, daily_runtime_minutes FROM projects`)
	if err != nil {
		return nil, fmt.Errorf("listing projects for reconciliation: %w", err)
	}
	defer rows.Close()

	var items []ProjectRow
	for rows.Next() {
		var pr ProjectRow
		if err := rows.Scan(&pr.ID, &pr.OwnerID, &pr.Tier, &pr.Status, &pr.IsLocked, &pr.LastActiveAt, &pr.LastResetAt, &pr.DailyMinutes); err != nil {
			return nil, fmt.Errorf("scanning project row: %w", err)
		}
		items = append(items, pr)
	}
	return items, rows.Err()
}

// DriftUpdateStatus writes a reconciler-authoritative status correction,
// bypassing ValidateTransition by design (§4.4 step 2).
func (s *Store) DriftUpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE projects SET status = $2 WHERE id = $1`, id, status)
	return err
}

// AddRuntimeMinutes adds tickMinutes to both runtime counters (§4.4 step 3).
func (s *Store) AddRuntimeMinutes(ctx context.Context, id int64, tickMinutes int) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE projects SET daily_runtime_minutes = daily_runtime_minutes + $2,
		 total_runtime_minutes = total_runtime_minutes + $2 WHERE id = $1`,
		id, tickMinutes)
	return err
}

// ForceSleep terminates a Project's active runtime: clears lock, sets
// SLEEPING (§4.4 steps 4/5).
func (s *Store) ForceSleep(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE projects SET status = 'SLEEPING', is_locked = false WHERE id = $1`, id)
	return err
}

// ResetDailyRuntime zeroes daily_runtime_minutes and bumps last_reset_at
// (§4.4 step 6).
func (s *Store) ResetDailyRuntime(ctx context.Context, id int64) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE projects SET daily_runtime_minutes = 0, last_reset_at = now() WHERE id = $1`, id)
	return err
}
