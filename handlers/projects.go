package handlers

import (
	"net/http"
	"strings"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ProjectHandler struct {
	responder Responder
	logger    zerolog.Logger
	projects  *database.ProjectRepo
	canonical canonical
}

func NewProjectHandler(db *database.Database, broadcaster Broadcaster, locks *ChannelLocks) *ProjectHandler {
	logger := log.With().Str("handlerName", "projectHandler").Logger()
	return &ProjectHandler{
		responder: NewResponder(logger),
		logger:    logger,
		projects:  db.Projects(),
		canonical: canonical{db: db, broadcaster: broadcaster, locks: locks, logger: logger},
	}
}

type projectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.FindAll(r.Context())
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "projects", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, projects)
}

func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	project, err := h.projects.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "project", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, project)
}

// Create adds a project with the default columns. Admin only.
func (h *ProjectHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(w, r, "project", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("name"))
		return
	}
	description := ""
	if req.Description != nil {
		description = strings.TrimSpace(*req.Description)
	}

	project, _, err := h.projects.Create(r.Context(), strings.TrimSpace(*req.Name), description)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("create", "project", err))
		return
	}

	h.logger.Info().Str("projectId", project.ID).Msg("created project")
	h.canonical.projects(r.Context())
	h.canonical.columns(r.Context(), project.ID)
	h.responder.WriteJSON(w, http.StatusCreated, project)
}

func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(w, r, "project", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.responder.WriteError(w, errs.NewInvalidFieldError("name", "must not be empty"))
			return
		}
		req.Name = &name
	}

	project, err := h.projects.Update(r.Context(), mux.Vars(r)["id"], req.Name, req.Description)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("update", "project", err))
		return
	}

	h.canonical.projects(r.Context())
	h.responder.WriteJSON(w, http.StatusOK, project)
}

// Delete removes a project and everything on its board. Deleting a missing
// project succeeds without broadcasting. Admin only.
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	deleted, err := h.projects.Delete(r.Context(), id)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("delete", "project", err))
		return
	}

	if deleted {
		h.logger.Info().Str("projectId", id).Msg("deleted project")
		h.canonical.projectDeleted(id)
		h.canonical.projects(r.Context())
	}
	h.responder.WriteSuccess(w)
}

// Board returns a project's columns and tasks.
func (h *ProjectHandler) Board(w http.ResponseWriter, r *http.Request) {
	board, err := h.projects.Board(r.Context(), mux.Vars(r)["projectId"])
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "board", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, board)
}
