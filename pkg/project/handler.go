package project

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/CoderRahul01/unideploy/internal/apperr"
	"github.com/CoderRahul01/unideploy/internal/auth"
	"github.com/CoderRahul01/unideploy/internal/httpserver"
)

// Handler exposes the Project Lifecycle API's HTTP surface (§6).
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Mount registers the project routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/projects", h.handleCreate)
	r.Get("/projects", h.handleList)
	r.Get("/projects/{id}", h.handleGet)
	r.Post("/projects/{id}/start", h.handleStart)
	r.Post("/projects/{id}/stop", h.handleStop)
}

func (h *Handler) ownerID(r *http.Request) (int64, bool) {
	id := auth.FromContext(r.Context())
	if id == nil {
		return 0, false
	}
	return id.OwnerID, true
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(r)
	if !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}

	var req CreateRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	p, err := h.svc.Create(r.Context(), ownerID, req)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(r)
	if !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}

	page, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	items, total, err := h.svc.List(r.Context(), ownerID, page.PageSize, page.Offset)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, apperr.Wrap(apperr.KindInternal, "listing projects", err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(items, page, total))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(r)
	if !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	p, err := h.svc.Get(r.Context(), ownerID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(r)
	if !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	p, err := h.svc.Start(r.Context(), ownerID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, p)
}

func (h *Handler) handleStop(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := h.ownerID(r)
	if !ok {
		httpserver.RespondAppError(w, h.logger, apperr.New(apperr.KindUnauthorized, "authentication required"))
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid project id")
		return
	}

	p, err := h.svc.Stop(r.Context(), ownerID, id)
	if err != nil {
		httpserver.RespondAppError(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, p)
}
