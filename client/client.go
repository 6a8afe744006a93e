// Package client talks to the board API on behalf of a single user and keeps
// a store.Store in step with the server.
//
// Edits are applied to the store first and then persisted. When the server
// rejects an edit the store is put back: temporary entities are removed,
// deletes are restored from a snapshot and drops resync the whole board.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
	"github.com/CrowderSoup/devtrack/store"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TempIDPrefix marks ids that exist only until the server answers.
const TempIDPrefix = "temp-"

// Notifier receives the user-facing outcome of every edit.
type Notifier interface {
	Success(message string)
	Error(message string, err error)
}

// LogNotifier reports outcomes to the log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Success(message string) {
	n.Logger.Info().Msg(message)
}

func (n LogNotifier) Error(message string, err error) {
	n.Logger.Warn().Err(err).Msg(message)
}

type Client struct {
	baseURL string
	token   string
	user    *models.User

	http   *http.Client
	dialer *websocket.Dialer
	store  *store.Store
	notify Notifier
	logger zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notify = n }
}

// WithSession reuses a token issued earlier instead of calling Login.
func WithSession(token string, user models.User) Option {
	return func(c *Client) {
		c.token = token
		c.user = &user
	}
}

// New returns a client for the API rooted at baseURL, e.g. http://host:3001/api.
func New(baseURL string, st *store.Store, opts ...Option) *Client {
	logger := log.With().Str("component", "client").Logger()
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		store:   st,
		notify:  LogNotifier{Logger: logger},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Store() *store.Store {
	return c.store
}

// User returns the signed in user, if any.
func (c *Client) User() (models.User, bool) {
	if c.user == nil {
		return models.User{}, false
	}
	return *c.user, true
}

func (c *Client) isAdmin() bool {
	return c.user != nil && c.user.Role == models.RoleAdmin
}

func (c *Client) requireAdmin(action string) error {
	if c.isAdmin() {
		return nil
	}
	err := errs.NewForbiddenError(action + " requires an admin")
	c.notify.Error("Only admins can "+action, err)
	return err
}

// Login exchanges credentials for a session token.
func (c *Client) Login(ctx context.Context, email, password string) (models.User, error) {
	var session struct {
		User  models.User `json:"user"`
		Token string      `json:"token"`
	}
	body := map[string]string{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "/login", body, &session); err != nil {
		return models.User{}, err
	}
	c.token = session.Token
	c.user = &session.User
	c.logger.Debug().Str("email", session.User.Email).Msg("signed in")
	return session.User, nil
}

func (c *Client) LoadProjects(ctx context.Context) error {
	var projects []models.Project
	if err := c.do(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		c.notify.Error("Failed to load projects", err)
		return err
	}
	c.store.Dispatch(store.SetProjects{Projects: projects})
	return nil
}

// LoadBoard makes projectID the active project and fetches its board.
func (c *Client) LoadBoard(ctx context.Context, projectID string) error {
	c.store.Dispatch(store.SetActiveProject{ID: projectID}, store.SetLoading{Loading: true})
	if err := c.fetchBoard(ctx, projectID); err != nil {
		c.store.Dispatch(store.SetLoading{Loading: false})
		c.notify.Error("Failed to load board", err)
		return err
	}
	return nil
}

func (c *Client) fetchBoard(ctx context.Context, projectID string) error {
	var board models.Board
	if err := c.do(ctx, http.MethodGet, "/board/"+url.PathEscape(projectID), nil, &board); err != nil {
		return err
	}
	c.store.Dispatch(
		store.SetStatusColumns{ProjectID: projectID, Columns: board.Statuses},
		store.SetTasks{ProjectID: projectID, Tasks: board.Tasks},
		store.SetLoading{Loading: false},
	)
	return nil
}

func (c *Client) CreateProject(ctx context.Context, name, description string) (models.Project, error) {
	if err := c.requireAdmin("create projects"); err != nil {
		return models.Project{}, err
	}

	tempID := newTempID()
	c.store.Dispatch(store.AddProject{Project: models.Project{
		ID:          tempID,
		Name:        strings.TrimSpace(name),
		Description: strings.TrimSpace(description),
		CreatedAt:   time.Now().UTC(),
	}})

	var created models.Project
	body := map[string]string{"name": name, "description": description}
	if err := c.do(ctx, http.MethodPost, "/projects", body, &created); err != nil {
		c.store.Dispatch(store.DeleteProject{ID: tempID})
		c.notify.Error("Failed to create project", err)
		return models.Project{}, err
	}

	c.store.Dispatch(store.UpdateProject{ID: tempID, Project: created})
	c.notify.Success("Project created")
	return created, nil
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	if err := c.requireAdmin("delete projects"); err != nil {
		return err
	}

	snapshot := c.store.State()
	c.store.Dispatch(store.DeleteProject{ID: id})

	if err := c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil); err != nil {
		c.store.Dispatch(store.Restore{State: snapshot})
		c.notify.Error("Failed to delete project", err)
		return err
	}
	c.notify.Success("Project deleted")
	return nil
}

// CreateTask adds task to the end of its column. ID and Order are assigned by
// the server.
func (c *Client) CreateTask(ctx context.Context, task models.Task) (models.Task, error) {
	tempID := newTempID()
	optimistic := task
	optimistic.ID = tempID
	optimistic.Order = len(c.store.State().ColumnTasks(task.StatusID))
	c.store.Dispatch(store.AddTask{Task: optimistic})

	var created models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", taskBody(task), &created); err != nil {
		c.store.Dispatch(store.DeleteTask{ID: tempID})
		c.notify.Error("Failed to create task", err)
		return models.Task{}, err
	}

	c.store.Dispatch(store.UpdateTask{ID: tempID, Task: created})
	c.notify.Success("Task created")
	return created, nil
}

// UpdateTask saves every editable field of task. Moving it to another column
// appends it to that column.
func (c *Client) UpdateTask(ctx context.Context, task models.Task) (models.Task, error) {
	snapshot := c.store.State()
	current, ok := snapshot.Task(task.ID)
	if !ok {
		err := errs.NewNotFoundError("task " + task.ID)
		c.notify.Error("Failed to update task", err)
		return models.Task{}, err
	}

	optimistic := task
	optimistic.ProjectID = current.ProjectID
	optimistic.Order = current.Order
	if task.StatusID != current.StatusID {
		optimistic.Order = len(snapshot.ColumnTasks(task.StatusID))
	}
	c.store.Dispatch(store.UpdateTask{ID: task.ID, Task: optimistic})

	var updated models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks", taskBody(task), &updated); err != nil {
		c.store.Dispatch(store.Restore{State: snapshot})
		c.notify.Error("Failed to update task", err)
		return models.Task{}, err
	}

	c.store.Dispatch(store.UpdateTask{ID: task.ID, Task: updated})
	c.notify.Success("Task updated")
	return updated, nil
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	snapshot := c.store.State()
	c.store.Dispatch(store.DeleteTask{ID: id})

	if err := c.do(ctx, http.MethodDelete, "/tasks?id="+url.QueryEscape(id), nil, nil); err != nil {
		c.store.Dispatch(store.Restore{State: snapshot})
		c.notify.Error("Failed to delete task", err)
		return err
	}
	c.notify.Success("Task deleted")
	return nil
}

// CreateColumn appends a column to the active board. An empty color lets the
// server pick its default.
func (c *Client) CreateColumn(ctx context.Context, name, color string) (models.StatusColumn, error) {
	s := c.store.State()
	if s.ActiveProjectID == "" {
		err := errs.NewBadRequestError("no active project")
		c.notify.Error("Failed to create column", err)
		return models.StatusColumn{}, err
	}

	tempID := newTempID()
	c.store.Dispatch(store.AddStatusColumn{Column: models.StatusColumn{
		ID:        tempID,
		ProjectID: s.ActiveProjectID,
		Name:      strings.TrimSpace(name),
		Color:     color,
		Order:     len(s.StatusColumns),
	}})

	body := map[string]string{"projectId": s.ActiveProjectID, "name": name}
	if color != "" {
		body["color"] = color
	}
	var created models.StatusColumn
	if err := c.do(ctx, http.MethodPost, "/status", body, &created); err != nil {
		c.store.Dispatch(store.DeleteStatusColumn{ID: tempID})
		c.notify.Error("Failed to create column", err)
		return models.StatusColumn{}, err
	}

	c.store.Dispatch(store.UpdateStatusColumn{ID: tempID, Column: created})
	c.notify.Success("Column created")
	return created, nil
}

func (c *Client) DeleteColumn(ctx context.Context, id string) error {
	if err := c.requireAdmin("delete columns"); err != nil {
		return err
	}

	snapshot := c.store.State()
	c.store.Dispatch(store.DeleteStatusColumn{ID: id})

	if err := c.do(ctx, http.MethodDelete, "/status?id="+url.QueryEscape(id), nil, nil); err != nil {
		c.store.Dispatch(store.Restore{State: snapshot})
		c.notify.Error("Failed to delete column", err)
		return err
	}
	c.notify.Success("Column deleted")
	return nil
}

// DropTask finishes a task drag. Drops that change nothing or land outside a
// valid target are discarded without a request.
func (c *Client) DropTask(ctx context.Context, drop reorder.TaskDrop) error {
	s := c.store.State()
	if drop.OverTaskID == "" && drop.OverColumnID != "" {
		if _, ok := s.Column(drop.OverColumnID); !ok {
			return nil
		}
	}
	move, err := reorder.MoveTask(s.Tasks, drop)
	if err != nil || !move.Changed {
		c.logger.Debug().Err(err).Str("taskId", drop.TaskID).Msg("drop discarded")
		return nil
	}

	c.store.Dispatch(store.ApplyTaskOrders{Orders: move.Batch})

	var persisted []models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/reorder", move.Batch, &persisted); err != nil {
		c.notify.Error("Failed to move task", err)
		c.resync(ctx, s)
		return err
	}
	for _, t := range persisted {
		c.store.Dispatch(store.UpdateTask{ID: t.ID, Task: t})
	}
	return nil
}

// DropColumn moves column activeID onto overID's position. An empty overID
// moves it to the end.
func (c *Client) DropColumn(ctx context.Context, activeID, overID string) error {
	s := c.store.State()
	move, err := reorder.MoveColumn(s.StatusColumns, activeID, overID)
	if err != nil || !move.Changed {
		c.logger.Debug().Err(err).Str("statusId", activeID).Msg("drop discarded")
		return nil
	}

	c.store.Dispatch(store.ApplyColumnOrders{Orders: move.Batch})

	var persisted []models.StatusColumn
	if err := c.do(ctx, http.MethodPut, "/status/reorder", move.Batch, &persisted); err != nil {
		c.notify.Error("Failed to move column", err)
		c.resync(ctx, s)
		return err
	}
	c.store.Dispatch(store.SetStatusColumns{ProjectID: s.ActiveProjectID, Columns: persisted})
	return nil
}

// resync replaces the board with the server's copy after a failed drop. If
// that fails too, the pre-drop snapshot is put back.
func (c *Client) resync(ctx context.Context, before store.State) {
	if before.ActiveProjectID == "" {
		c.store.Dispatch(store.Restore{State: before})
		return
	}
	if err := c.fetchBoard(ctx, before.ActiveProjectID); err != nil {
		c.logger.Warn().Err(err).Str("projectId", before.ActiveProjectID).Msg("board resync failed")
		c.store.Dispatch(store.Restore{State: before})
	}
}

func newTempID() string {
	return TempIDPrefix + uuid.NewString()
}

func taskBody(t models.Task) map[string]any {
	body := map[string]any{
		"projectId":   t.ProjectID,
		"statusId":    t.StatusID,
		"title":       t.Title,
		"description": t.Description,
		"assignee":    t.Assignee,
		"dueDate":     t.DueDate,
		"priority":    t.Priority,
		"tags":        t.Tags,
		"githubLink":  t.GithubLink,
	}
	if t.ID != "" {
		body["id"] = t.ID
	}
	return body
}

// do sends one request. Error responses come back as *errs.ApiErr carrying
// the server's status and message.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var payload struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload)
		if payload.Error == "" {
			payload.Error = http.StatusText(resp.StatusCode)
		}
		return errs.NewApiErr(resp.StatusCode, payload.Error)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}
