package deployment

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/CoderRahul01/unideploy/internal/db"
)

// Store provides database operations for deployments.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a deployment Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const deploymentColumns = `id, project_id, created_at, status, image_tag, domain, sandbox_id, error_message,
	autofix_focus_file, autofix_suggestion, autofix_patch`

func scanDeployment(row pgx.Row) (Deployment, error) {
	var d Deployment
	err := row.Scan(
		&d.ID, &d.ProjectID, &d.CreatedAt, &d.Status, &d.ImageTag, &d.Domain, &d.SandboxID, &d.ErrorMessage,
		&d.AutoFixFocusFile, &d.AutoFixSuggestion, &d.AutoFixPatch,
	)
	return d, err
}

// Create inserts a new Deployment row in status "queued".
func (s *Store) Create(ctx context.Context, projectID int64) (Deployment, error) {
	row := s.dbtx.QueryRow(ctx,
		`INSERT INTO deployments (project_id, status) VALUES ($1, 'queued') RETURNING `+deploymentColumns,
		projectID,
	)
	return scanDeployment(row)
}

// Get returns a Deployment by ID.
func (s *Store) Get(ctx context.Context, id int64) (Deployment, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE id = $1`, id)
	return scanDeployment(row)
}

// GetLatestForProject returns the most recent Deployment for a Project, used
// by start_project to re-run the last known repository (§4.2).
func (s *Store) GetLatestForProject(ctx context.Context, projectID int64) (Deployment, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE project_id = $1 ORDER BY created_at DESC LIMIT 1`,
		projectID)
	return scanDeployment(row)
}

// GetLatestLive returns the Project's most recent Deployment in status=live,
// used by stop_project to find the sandbox to kill.
func (s *Store) GetLatestLive(ctx context.Context, projectID int64) (Deployment, error) {
	row := s.dbtx.QueryRow(ctx,
		`SELECT `+deploymentColumns+` FROM deployments WHERE project_id = $1 AND status = 'live' ORDER BY created_at DESC LIMIT 1`,
		projectID)
	return scanDeployment(row)
}

// GetStatus returns just a Deployment's status column, used by the WS
// gateway to seed a connecting client without fetching the full row.
func (s *Store) GetStatus(ctx context.Context, id int64) (string, error) {
	var status string
	err := s.dbtx.QueryRow(ctx, `SELECT status FROM deployments WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return "", fmt.Errorf("getting deployment status: %w", err)
	}
	return status, nil
}

// UpdateStatus advances a Deployment's status (P1 is enforced by the caller
// via internal/guard before invoking this).
func (s *Store) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE deployments SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating deployment status: %w", err)
	}
	return nil
}

// MarkLive sets the terminal live state: status, image tag, sandbox id, and
// derived domain (§4.3 step 5).
func (s *Store) MarkLive(ctx context.Context, id int64, imageTag, sandboxID, domain string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET status = 'live', image_tag = $2, sandbox_id = $3, domain = $4 WHERE id = $1`,
		id, imageTag, sandboxID, domain)
	if err != nil {
		return fmt.Errorf("marking deployment live: %w", err)
	}
	return nil
}

// MarkFailed sets the terminal failed state with an error message (§4.3
// step 6).
func (s *Store) MarkFailed(ctx context.Context, id int64, errMessage string) error {
	_, err := s.dbtx.Exec(ctx, `UPDATE deployments SET status = 'failed', error_message = $2 WHERE id = $1`, id, errMessage)
	if err != nil {
		return fmt.Errorf("marking deployment failed: %w", err)
	}
	return nil
}

// SetAutoFixResult persists an AutoFix proposal against the Deployment it
// was produced for, so a later POST /deployments/{id}/apply-fix can recover
// the proposed patch after the run's workspace has been removed (§4.8).
func (s *Store) SetAutoFixResult(ctx context.Context, id int64, focusFile, suggestion, patch string) error {
	_, err := s.dbtx.Exec(ctx,
		`UPDATE deployments SET autofix_focus_file = $2, autofix_suggestion = $3, autofix_patch = $4 WHERE id = $1`,
		id, focusFile, suggestion, patch)
	if err != nil {
		return fmt.Errorf("persisting autofix result: %w", err)
	}
	return nil
}

// ListLiveWithDomain returns every Deployment currently status=live with a
// domain, which the reconciler uses to map Projects to their sandbox IDs
// for drift detection and correction.
func (s *Store) ListLiveWithDomain(ctx context.Context) ([]Deployment, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+deploymentColumns+` FROM deployments WHERE status = 'live' AND domain IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("listing live deployments: %w", err)
	}
	defer rows.Close()

	var items []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning deployment: %w", err)
		}
		items = append(items, d)
	}
	return items, rows.Err()
}
