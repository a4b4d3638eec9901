// Package project implements the Project Lifecycle API (C7): create/start/stop,
// each enforced by the Guard Library (C1) and serialized by a per-row lock
// (§4.2).
package project

import "time"

// Project is a durable tenant workload (§3).
type Project struct {
	ID                  int64             `json:"id"`
	OwnerID             int64             `json:"owner_id"`
	Name                string            `json:"name"`
	GitURL              *string           `json:"git_url,omitempty"`
	ProjectType         *string           `json:"project_type,omitempty"`
	Port                *int              `json:"port,omitempty"`
	Tier                string            `json:"tier"`
	EnvVars             map[string]string `json:"env_vars,omitempty"`
	Status              string            `json:"status"`
	IsLocked            bool              `json:"-"`
	LastActiveAt        time.Time         `json:"last_active_at"`
	DailyRuntimeMinutes int               `json:"daily_runtime_minutes"`
	TotalRuntimeMinutes int               `json:"total_runtime_minutes"`
	LastResetAt         time.Time         `json:"last_reset_at"`
	CreatedAt           time.Time         `json:"created_at"`

	// LatestDeploymentID is synthesized for the GET /projects listing (§6);
	// zero when the Project has no Deployment yet.
	LatestDeploymentID int64 `json:"latest_deployment_id,omitempty"`
}

// CreateRequest is the JSON body for POST /projects.
type CreateRequest struct {
	Name        string            `json:"name" validate:"required,min=1,max=100"`
	ProjectType string            `json:"project_type"`
	Port        *int              `json:"port"`
	GitURL      string            `json:"git_url"`
	Tier        string            `json:"tier" validate:"omitempty,oneof=SEED LAUNCH SCALE"`
	EnvVars     map[string]string `json:"env_vars"`
}
