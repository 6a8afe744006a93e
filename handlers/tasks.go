package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type TaskHandler struct {
	responder Responder
	logger    zerolog.Logger
	tasks     *database.TaskRepo
	canonical canonical
}

func NewTaskHandler(db *database.Database, broadcaster Broadcaster, locks *ChannelLocks) *TaskHandler {
	logger := log.With().Str("handlerName", "taskHandler").Logger()
	return &TaskHandler{
		responder: NewResponder(logger),
		logger:    logger,
		tasks:     db.Tasks(),
		canonical: canonical{db: db, broadcaster: broadcaster, locks: locks, logger: logger},
	}
}

// nullableString tells an absent field apart from an explicit null.
type nullableString struct {
	Set   bool
	Null  bool
	Value string
}

func (n *nullableString) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		n.Null = true
		return nil
	}
	return json.Unmarshal(data, &n.Value)
}

func (n nullableString) ptr() *string {
	if !n.Set || n.Null || strings.TrimSpace(n.Value) == "" {
		return nil
	}
	v := strings.TrimSpace(n.Value)
	return &v
}

// cleared reports whether the caller asked for the field to be emptied.
func (n nullableString) cleared() bool {
	return n.Set && (n.Null || strings.TrimSpace(n.Value) == "")
}

type taskRequest struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	StatusID    *string        `json:"statusId"`
	Title       *string        `json:"title"`
	Description nullableString `json:"description"`
	Assignee    *string        `json:"assignee"`
	DueDate     nullableString `json:"dueDate"`
	Priority    *string        `json:"priority"`
	Tags        *models.Tags   `json:"tags"`
	GithubLink  nullableString `json:"githubLink"`
}

func (req taskRequest) toTask() (models.Task, error) {
	switch {
	case req.Title == nil || strings.TrimSpace(*req.Title) == "":
		return models.Task{}, errs.NewMissingRequiredFieldError("title")
	case req.Assignee == nil || strings.TrimSpace(*req.Assignee) == "":
		return models.Task{}, errs.NewMissingRequiredFieldError("assignee")
	case req.StatusID == nil || *req.StatusID == "":
		return models.Task{}, errs.NewMissingRequiredFieldError("statusId")
	case req.ProjectID == "":
		return models.Task{}, errs.NewMissingRequiredFieldError("projectId")
	case req.Priority == nil || *req.Priority == "":
		return models.Task{}, errs.NewMissingRequiredFieldError("priority")
	}

	priority := models.Priority(*req.Priority)
	if !priority.Valid() {
		return models.Task{}, errs.NewInvalidFieldError("priority", "must be low, medium or high")
	}

	task := models.Task{
		ProjectID:   req.ProjectID,
		StatusID:    *req.StatusID,
		Title:       strings.TrimSpace(*req.Title),
		Description: req.Description.ptr(),
		Assignee:    strings.TrimSpace(*req.Assignee),
		DueDate:     req.DueDate.ptr(),
		Priority:    priority,
		GithubLink:  req.GithubLink.ptr(),
	}
	if req.Tags != nil {
		task.Tags = *req.Tags
	}
	return task, nil
}

func (req taskRequest) toPatch() (database.TaskPatch, error) {
	patch := database.TaskPatch{
		Description:      req.Description.ptr(),
		DueDate:          req.DueDate.ptr(),
		GithubLink:       req.GithubLink.ptr(),
		ClearDescription: req.Description.cleared(),
		ClearDueDate:     req.DueDate.cleared(),
		ClearGithubLink:  req.GithubLink.cleared(),
		Tags:             req.Tags,
	}

	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return patch, errs.NewInvalidFieldError("title", "must not be empty")
		}
		patch.Title = &title
	}
	if req.Assignee != nil {
		assignee := strings.TrimSpace(*req.Assignee)
		if assignee == "" {
			return patch, errs.NewInvalidFieldError("assignee", "must not be empty")
		}
		patch.Assignee = &assignee
	}
	if req.Priority != nil {
		priority := models.Priority(*req.Priority)
		if !priority.Valid() {
			return patch, errs.NewInvalidFieldError("priority", "must be low, medium or high")
		}
		patch.Priority = &priority
	}
	if req.StatusID != nil {
		if *req.StatusID == "" {
			return patch, errs.NewInvalidFieldError("statusId", "must not be empty")
		}
		patch.StatusID = req.StatusID
	}
	return patch, nil
}

// List returns a project's tasks sorted by column order. Without a
// projectId the list is empty.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		h.responder.WriteJSON(w, http.StatusOK, []models.Task{})
		return
	}

	tasks, err := h.tasks.ListByProject(r.Context(), projectID)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "tasks", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, tasks)
}

// Create appends a task to the end of its column.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeBody(w, r, "task", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	task, err := req.toTask()
	if err != nil {
		h.responder.WriteError(w, err)
		return
	}

	created, err := h.tasks.Create(r.Context(), task)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("create", "task", err))
		return
	}

	h.canonical.tasks(r.Context(), created.ProjectID)
	h.responder.WriteJSON(w, http.StatusCreated, created)
}

func (h *TaskHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := decodeBody(w, r, "task", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.ID == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("id"))
		return
	}
	patch, err := req.toPatch()
	if err != nil {
		h.responder.WriteError(w, err)
		return
	}

	updated, err := h.tasks.Update(r.Context(), req.ID, patch)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("update", "task", err))
		return
	}

	h.canonical.tasks(r.Context(), updated.ProjectID)
	h.responder.WriteJSON(w, http.StatusOK, updated)
}

// Delete removes a task. Deleting a task that no longer exists succeeds.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("id"))
		return
	}

	deleted, err := h.tasks.Delete(r.Context(), id)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("delete", "task", err))
		return
	}

	if deleted != nil {
		h.canonical.tasks(r.Context(), deleted.ProjectID)
	}
	h.responder.WriteSuccess(w)
}

// Reorder applies a batch of task positions atomically and broadcasts the
// canonical task list of every project the batch touched.
func (h *TaskHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var batch []models.TaskOrder
	if err := decodeBody(w, r, "task reorder", &batch); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if err := validateTaskBatch(batch); err != nil {
		h.responder.WriteError(w, err)
		return
	}

	result, err := h.tasks.Reorder(r.Context(), batch)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("reorder", "tasks", err))
		return
	}

	h.logger.Debug().Int("entries", len(batch)).Strs("projects", result.Projects).Msg("reordered tasks")
	for _, projectID := range result.Projects {
		h.canonical.tasks(r.Context(), projectID)
	}
	h.responder.WriteJSON(w, http.StatusOK, result.Tasks)
}

func validateTaskBatch(batch []models.TaskOrder) error {
	if len(batch) == 0 {
		return errs.NewBadRequestError("reorder batch must be a non-empty array")
	}
	seen := make(map[string]bool, len(batch))
	for _, entry := range batch {
		if entry.ID == "" {
			return errs.NewMissingRequiredFieldError("id")
		}
		if entry.StatusID == "" {
			return errs.NewMissingRequiredFieldError("statusId")
		}
		if seen[entry.ID] {
			return errs.NewInvalidFieldError("id", "task "+entry.ID+" appears more than once")
		}
		seen[entry.ID] = true
	}
	return nil
}
