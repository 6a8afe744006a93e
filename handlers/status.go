package handlers

import (
	"net/http"
	"strings"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const defaultColumnColor = "bg-slate-100"

// StatusHandler serves the status columns of a board.
type StatusHandler struct {
	responder Responder
	logger    zerolog.Logger
	columns   *database.ColumnRepo
	canonical canonical
}

func NewStatusHandler(db *database.Database, broadcaster Broadcaster, locks *ChannelLocks) *StatusHandler {
	logger := log.With().Str("handlerName", "statusHandler").Logger()
	return &StatusHandler{
		responder: NewResponder(logger),
		logger:    logger,
		columns:   db.Columns(),
		canonical: canonical{db: db, broadcaster: broadcaster, locks: locks, logger: logger},
	}
}

type columnRequest struct {
	ID        string  `json:"id"`
	ProjectID string  `json:"projectId"`
	Name      *string `json:"name"`
	Color     *string `json:"color"`
	Order     *int    `json:"order"`
}

func (h *StatusHandler) List(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	if projectID == "" {
		h.responder.WriteJSON(w, http.StatusOK, []models.StatusColumn{})
		return
	}

	columns, err := h.columns.ListByProject(r.Context(), projectID)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("find", "status columns", err))
		return
	}
	h.responder.WriteJSON(w, http.StatusOK, columns)
}

// Create appends a column to the right end of the board.
func (h *StatusHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeBody(w, r, "status column", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("name"))
		return
	}
	if req.ProjectID == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("projectId"))
		return
	}
	color := defaultColumnColor
	if req.Color != nil && strings.TrimSpace(*req.Color) != "" {
		color = strings.TrimSpace(*req.Color)
	}

	col, err := h.columns.Create(r.Context(), req.ProjectID, strings.TrimSpace(*req.Name), color)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("create", "status column", err))
		return
	}

	h.canonical.columns(r.Context(), col.ProjectID)
	h.responder.WriteJSON(w, http.StatusCreated, col)
}

func (h *StatusHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req columnRequest
	if err := decodeBody(w, r, "status column", &req); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if req.ID == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("id"))
		return
	}

	patch := database.ColumnPatch{Color: req.Color, Order: req.Order}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			h.responder.WriteError(w, errs.NewInvalidFieldError("name", "must not be empty"))
			return
		}
		patch.Name = &name
	}
	if req.Order != nil && *req.Order < 0 {
		h.responder.WriteError(w, errs.NewInvalidFieldError("order", "must not be negative"))
		return
	}

	col, err := h.columns.Update(r.Context(), req.ID, patch)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("update", "status column", err))
		return
	}

	h.canonical.columns(r.Context(), col.ProjectID)
	h.responder.WriteJSON(w, http.StatusOK, col)
}

// Delete removes a column and moves its tasks to the leftmost remaining
// column. Admin only.
func (h *StatusHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		h.responder.WriteError(w, errs.NewMissingRequiredFieldError("id"))
		return
	}

	deleted, err := h.columns.Delete(r.Context(), id)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("delete", "status column", err))
		return
	}

	h.logger.Info().Str("statusId", id).Str("projectId", deleted.ProjectID).Msg("deleted status column")
	h.canonical.columns(r.Context(), deleted.ProjectID)
	h.canonical.tasks(r.Context(), deleted.ProjectID)
	h.responder.WriteSuccess(w)
}

// Reorder applies a batch of column positions for one project atomically.
func (h *StatusHandler) Reorder(w http.ResponseWriter, r *http.Request) {
	var batch []models.ColumnOrder
	if err := decodeBody(w, r, "status reorder", &batch); err != nil {
		h.responder.WriteError(w, err)
		return
	}
	if err := validateColumnBatch(batch); err != nil {
		h.responder.WriteError(w, err)
		return
	}

	projectID, columns, err := h.columns.Reorder(r.Context(), batch)
	if err != nil {
		h.responder.WriteError(w, wrapDatabaseError("reorder", "status columns", err))
		return
	}

	h.canonical.columns(r.Context(), projectID)
	h.responder.WriteJSON(w, http.StatusOK, columns)
}

func validateColumnBatch(batch []models.ColumnOrder) error {
	if len(batch) == 0 {
		return errs.NewBadRequestError("reorder batch must be a non-empty array")
	}
	seen := make(map[string]bool, len(batch))
	for _, entry := range batch {
		if entry.ID == "" {
			return errs.NewMissingRequiredFieldError("id")
		}
		if seen[entry.ID] {
			return errs.NewInvalidFieldError("id", "column "+entry.ID+" appears more than once")
		}
		seen[entry.ID] = true
	}
	return nil
}
