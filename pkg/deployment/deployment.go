// Package deployment implements the Deployment Pipeline (C6): the
// end-to-end, stage-by-stage orchestration of a single build+run attempt.
package deployment

import (
	"regexp"
	"strings"
	"time"
)

// Deployment is one build+run attempt against a Project (§3). Status
// progresses monotonically (P1) and the row is never deleted.
type Deployment struct {
	ID           int64     `json:"id"`
	ProjectID    int64     `json:"project_id"`
	CreatedAt    time.Time `json:"created_at"`
	Status       string    `json:"status"`
	ImageTag     *string   `json:"image_tag,omitempty"`
	Domain       *string   `json:"domain,omitempty"`
	SandboxID    *string   `json:"sandbox_id,omitempty"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	AutoFixFocusFile  *string `json:"autofix_focus_file,omitempty"`
	AutoFixSuggestion *string `json:"autofix_suggestion,omitempty"`
	AutoFixPatch      *string `json:"-"`
}

var slugDisallowed = regexp.MustCompile(`[^a-z0-9-]`)

// slugify lowercases, replaces spaces with hyphens, and strips any
// character outside [a-z0-9-] (§4.3).
func slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.ReplaceAll(s, " ", "-")
	return slugDisallowed.ReplaceAllString(s, "")
}

// deriveDomain computes a Deployment's public domain from the Project name
// and the configured public suffix (§4.3).
func deriveDomain(projectName, publicSuffix string) string {
	return slugify(projectName) + ".app." + publicSuffix
}
