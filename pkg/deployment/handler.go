package deployment

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CoderRahul01/unideploy/internal/apperr"
	"github.com/CoderRahul01/unideploy/internal/auth"
	"github.com/CoderRahul01/unideploy/internal/guard"
	"github.com/CoderRahul01/unideploy/internal/httpserver"
	"github.com/CoderRahul01/unideploy/pkg/intent"
)

// maxUploadMemory bounds how much of a multipart upload is buffered in
// memory before spilling to a temp file (the rest streams to disk).
const maxUploadMemory = 32 << 20

// FixApplier is the Handler's narrow view of the AutoFix Flow (§4.8 step 6).
// Declared here rather than imported from pkg/autofix so neither package
// needs to know about the other's concrete types.
type FixApplier interface {
	ApplyFix(ctx context.Context, projectID int64, focusFile, suggestion, rawPatch string) (string, error)
}

// Handler exposes the Deployment Pipeline's HTTP surface (§6).
type Handler struct {
	store      *Store
	projects   ProjectStore
	pipeline   *Pipeline
	analyzer   *Analyzer
	limits     guard.Limits
	guardStore guard.Store
	autofixer  FixApplier
	intentLog  *intent.Writer
	logger     *slog.Logger
}

// NewHandler creates a Handler. autofixer and intentLog may be nil: a nil
// autofixer causes apply-fix to respond with an error (AutoFix is disabled
// platform-wide) and a nil intentLog skips recording.
func NewHandler(store *Store, projects ProjectStore, pipeline *Pipeline, analyzer *Analyzer, limits guard.Limits, guardStore guard.Store, autofixer FixApplier, intentLog *intent.Writer, logger *slog.Logger) *Handler {
	return &Handler{
		store:      store,
		projects:   projects,
		pipeline:   pipeline,
		analyzer:   analyzer,
		limits:     limits,
		guardStore: guardStore,
		autofixer:  autofixer,
		intentLog:  intentLog,
		logger:     logger,
	}
}

// logIntent records an intent-log entry, nil-safe.
func (h *Handler) logIntent(actorSubject, action string, projectID int64, result string, detail any) {
	if h.intentLog == nil {
		return
	}
	h.intentLog.Log(intent.Entry{
		ActorSubject: actorSubject,
		Action:       action,
		ProjectID:    projectID,
		Result:       result,
		Detail:       intent.Detail(detail),
	})
}

// actorSubject returns the authenticated caller's subject, or "unknown" when
// no identity is attached to the request (e.g. a background context).
func actorSubject(r *http.Request) string {
	if id := auth.FromContext(r.Context()); id != nil {
		return id.Subject
	}
	return "unknown"
}

// Mount registers the deployment routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/deploy/{project_id}", h.handleDeploy)
	r.Post("/deploy/{project_id}/git", h.handleDeployGit)
	r.Post("/analyze", h.handleAnalyze)
	r.Post("/analyze/zip", h.handleAnalyzeZip)
	r.Get("/deployments/{id}", h.handleGet)
	r.Post("/deployments/{id}/apply-fix", h.handleApplyFix)
}

func (h *Handler) loadOwnedProject(w http.ResponseWriter, r *http.Request, projectID int64) (ProjectView, bool) {
	proj, err := h.projects.GetView(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.NotFound("project not found"))
		return ProjectView{}, false
	}
	identity := auth.FromContext(r.Context())
	if identity != nil && identity.OwnerID != proj.OwnerID {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "not your project"))
		return ProjectView{}, false
	}
	return proj, true
}

// handleDeploy accepts a multipart `file` upload (a zip of the project
// source) and deploys it, per §6's POST /deploy/{project_id}.
func (h *Handler) handleDeploy(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "project_id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	proj, ok := h.loadOwnedProject(w, r, projectID)
	if !ok {
		return
	}

	if ok, reason := h.limits.ValidateUpload(r.ContentLength); !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindPayloadTooLarge, reason))
		return
	}

	if ok, reason, err := h.limits.CanBuild(r.Context(), h.guardStore); err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "checking build admission", err))
		return
	} else if !ok {
		h.logIntent(actorSubject(r), "deploy", projectID, intent.ResultRejected, map[string]string{"reason": reason})
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindPlatformBlocked, reason))
		return
	}

	var uploadPath string
	if err := r.ParseMultipartForm(maxUploadMemory); err == nil {
		if file, _, ferr := r.FormFile("file"); ferr == nil {
			defer file.Close()
			uploadPath, err = h.saveUpload(projectID, file)
			if err != nil {
				httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "saving upload", err))
				return
			}
		}
	}

	d, err := h.store.Create(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "creating deployment", err))
		return
	}

	go h.pipeline.Run(newBackgroundContext(), RunInput{
		DeploymentID: d.ID,
		ProjectID:    projectID,
		PriorStatus:  proj.Status,
		UploadPath:   uploadPath,
	})

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"deployment_id": d.ID, "status": "queued"})
}

// saveUpload extracts an uploaded zip into a scratch directory that
// stageClone will copy into the Deployment's workspace.
func (h *Handler) saveUpload(projectID int64, file io.Reader) (string, error) {
	tmp, err := os.CreateTemp("", "upload-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, file)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(h.analyzer.workspaceRoot, "upload-"+strconv.FormatInt(projectID, 10))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", err
	}

	zr, err := zip.NewReader(tmp, size)
	if err != nil {
		return "", err
	}
	if err := extractZip(zr, dest); err != nil {
		return "", err
	}
	return dest, nil
}

type deployGitRequest struct {
	RepoURL string `json:"repo_url" validate:"required,url"`
}

// handleDeployGit accepts {repo_url} and deploys it without persisting it
// as the Project's git_url, per §6's POST /deploy/{project_id}/git.
func (h *Handler) handleDeployGit(w http.ResponseWriter, r *http.Request) {
	projectID, err := strconv.ParseInt(chi.URLParam(r, "project_id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	proj, ok := h.loadOwnedProject(w, r, projectID)
	if !ok {
		return
	}

	var req deployGitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if ok, reason, err := h.limits.CanBuild(r.Context(), h.guardStore); err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "checking build admission", err))
		return
	} else if !ok {
		h.logIntent(actorSubject(r), "deploy_git", projectID, intent.ResultRejected, map[string]string{"reason": reason})
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindPlatformBlocked, reason))
		return
	}

	d, err := h.store.Create(r.Context(), projectID)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "creating deployment", err))
		return
	}

	go h.pipeline.Run(newBackgroundContext(), RunInput{
		DeploymentID:    d.ID,
		ProjectID:       projectID,
		PriorStatus:     proj.Status,
		RepoURLOverride: req.RepoURL,
	})

	httpserver.Respond(w, http.StatusAccepted, map[string]any{"deployment_id": d.ID, "status": "queued"})
}

func (h *Handler) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repo_url")
	if repoURL == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "repo_url query parameter is required")
		return
	}

	result, err := h.analyzer.AnalyzeRepo(r.Context(), repoURL)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindIntegration, "analyzing repository", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleAnalyzeZip(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid multipart upload")
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "analyze-*.zip")
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "buffering upload", err))
		return
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	size, err := io.Copy(tmp, file)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "buffering upload", err))
		return
	}

	result, err := h.analyzer.AnalyzeZip(tmp, size)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindValidation, "analyzing upload", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment id")
		return
	}

	d, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.NotFound("deployment not found"))
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

// applyFixRequest is the JSON body for POST /deployments/{id}/apply-fix: the
// operator accepting an AutoFix suggestion and asking for a redeploy (§4.8).
type applyFixRequest struct {
	Accept bool `json:"accept"`
}

func (h *Handler) handleApplyFix(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid deployment id")
		return
	}

	var req applyFixRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	if !req.Accept {
		httpserver.Respond(w, http.StatusOK, map[string]string{"status": "declined"})
		return
	}

	d, err := h.store.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.NotFound("deployment not found"))
		return
	}

	if d.AutoFixFocusFile == nil || d.AutoFixPatch == nil {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindValidation, "deployment has no pending autofix suggestion"))
		return
	}
	if h.autofixer == nil {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindPlatformBlocked, "autofix is not configured"))
		return
	}

	var suggestion string
	if d.AutoFixSuggestion != nil {
		suggestion = *d.AutoFixSuggestion
	}

	patchedFile, err := h.autofixer.ApplyFix(r.Context(), d.ProjectID, *d.AutoFixFocusFile, suggestion, *d.AutoFixPatch)
	if err != nil {
		h.logIntent(actorSubject(r), "apply_fix", d.ProjectID, intent.ResultFailed, map[string]string{"reason": err.Error()})
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "applying fix", err))
		return
	}

	h.logIntent(actorSubject(r), "apply_fix", d.ProjectID, intent.ResultSuccess, map[string]string{"patched_file": patchedFile})
	httpserver.Respond(w, http.StatusAccepted, map[string]string{"status": "success", "patched_file": patchedFile})
}
