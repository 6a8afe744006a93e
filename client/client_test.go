package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/CrowderSoup/devtrack/database"
	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/handlers"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
	"github.com/CrowderSoup/devtrack/services"
	"github.com/CrowderSoup/devtrack/store"
)

type recordingNotifier struct {
	mu        sync.Mutex
	successes []string
	errors    []string
}

func (n *recordingNotifier) Success(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.successes = append(n.successes, message)
}

func (n *recordingNotifier) Error(message string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, message)
}

func (n *recordingNotifier) counts() (int, int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.successes), len(n.errors)
}

func board() store.State {
	return store.State{
		Projects:        []models.Project{{ID: "p1", Name: "Apollo"}},
		ActiveProjectID: "p1",
		StatusColumns: []models.StatusColumn{
			{ID: "A", ProjectID: "p1", Name: "To Do", Order: 0},
			{ID: "B", ProjectID: "p1", Name: "Done", Order: 1},
		},
		Tasks: []models.Task{
			{ID: "t1", ProjectID: "p1", StatusID: "A", Title: "one", Order: 0},
			{ID: "t2", ProjectID: "p1", StatusID: "A", Title: "two", Order: 1},
			{ID: "t3", ProjectID: "p1", StatusID: "B", Title: "three", Order: 0},
		},
	}
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func failWith(status int, message string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, status, map[string]string{"error": message, "status": "error"})
	}
}

type route = map[string]http.HandlerFunc

// fakeAPI serves the given "METHOD /path" routes and counts every request.
func fakeAPI(t *testing.T, routes route) (*httptest.Server, *int32) {
	t.Helper()
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			failWith(http.StatusNotFound, "not found")(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newClient(srv *httptest.Server, st *store.Store, n Notifier, role models.Role) *Client {
	return New(srv.URL+"/api", st,
		WithHTTPClient(srv.Client()),
		WithNotifier(n),
		WithSession("token", models.User{ID: "u1", Email: "someone@example.com", Role: role}),
	)
}

func hasTempTask(s store.State) bool {
	for _, task := range s.Tasks {
		if strings.HasPrefix(task.ID, TempIDPrefix) {
			return true
		}
	}
	return false
}

func TestCreateTaskFailureRemovesTempTask(t *testing.T) {
	st := store.New(board())
	var sawTemp atomic.Bool
	srv, _ := fakeAPI(t, route{
		"POST /api/tasks": func(w http.ResponseWriter, r *http.Request) {
			sawTemp.Store(hasTempTask(st.State()))
			failWith(http.StatusInternalServerError, "Internal Server Error")(w, r)
		},
	})
	notes := &recordingNotifier{}
	c := newClient(srv, st, notes, models.RoleUser)

	_, err := c.CreateTask(context.Background(), models.Task{
		ProjectID: "p1", StatusID: "A", Title: "new", Assignee: "sam", Priority: models.PriorityLow,
	})
	if errs.StatusCode(err) != http.StatusInternalServerError {
		t.Fatalf("expected the server error, got %v", err)
	}
	if !sawTemp.Load() {
		t.Fatalf("the task was not shown before the server answered")
	}
	if hasTempTask(st.State()) {
		t.Fatalf("temp task left behind after failure")
	}
	if mustJSON(t, st.State()) != mustJSON(t, board()) {
		t.Fatalf("board changed after a failed create")
	}
	if successes, failures := notes.counts(); successes != 0 || failures != 1 {
		t.Fatalf("want only an error notice, got %d successes and %d errors", successes, failures)
	}
}

func TestCreateTaskSwapsTempID(t *testing.T) {
	st := store.New(board())
	bodies := make(chan map[string]any, 1)
	srv, _ := fakeAPI(t, route{
		"POST /api/tasks": func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body)
			bodies <- body
			writeJSON(w, http.StatusCreated, models.Task{ID: "real-1", ProjectID: "p1", StatusID: "B", Title: "new", Order: 1})
		},
	})
	notes := &recordingNotifier{}
	c := newClient(srv, st, notes, models.RoleUser)

	created, err := c.CreateTask(context.Background(), models.Task{ProjectID: "p1", StatusID: "B", Title: "new"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if body := <-bodies; body["title"] != "new" || body["id"] != nil {
		t.Fatalf("create request should not carry an id: %v", body)
	}
	if created.ID != "real-1" || hasTempTask(st.State()) {
		t.Fatalf("temp id not replaced: %+v", st.State().Tasks)
	}
	if task, ok := st.State().Task("real-1"); !ok || task.Order != 1 {
		t.Fatalf("server task missing: %+v", task)
	}
	if successes, _ := notes.counts(); successes != 1 {
		t.Fatalf("expected a success notice")
	}
}

func TestDropTaskPersistsBatch(t *testing.T) {
	st := store.New(board())
	batches := make(chan []models.TaskOrder, 1)
	srv, _ := fakeAPI(t, route{
		"PUT /api/tasks/reorder": func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("Authorization"); got != "Bearer token" {
				t.Errorf("unexpected authorization %q", got)
			}
			var batch []models.TaskOrder
			json.NewDecoder(r.Body).Decode(&batch)
			batches <- batch
			writeJSON(w, http.StatusOK, []models.Task{
				{ID: "t2", ProjectID: "p1", StatusID: "A", Title: "two", Order: 0},
				{ID: "t1", ProjectID: "p1", StatusID: "B", Title: "one", Order: 0},
				{ID: "t3", ProjectID: "p1", StatusID: "B", Title: "three", Order: 1},
			})
		},
	})
	c := newClient(srv, st, &recordingNotifier{}, models.RoleUser)

	if err := c.DropTask(context.Background(), reorder.TaskDrop{TaskID: "t1", OverTaskID: "t3"}); err != nil {
		t.Fatalf("drop: %v", err)
	}

	want := []models.TaskOrder{
		{ID: "t1", StatusID: "B", Order: 0, ProjectID: "p1"},
		{ID: "t3", StatusID: "B", Order: 1, ProjectID: "p1"},
		{ID: "t2", StatusID: "A", Order: 0, ProjectID: "p1"},
	}
	if batch := <-batches; !reflect.DeepEqual(batch, want) {
		t.Fatalf("batch = %+v, want %+v", batch, want)
	}

	s := st.State()
	var got []string
	for _, task := range s.ColumnTasks("B") {
		got = append(got, task.ID)
	}
	if !reflect.DeepEqual(got, []string{"t1", "t3"}) {
		t.Fatalf("column B = %v", got)
	}
}

func TestDropsApplySentBatchOptimistically(t *testing.T) {
	st := store.New(board())
	srv, _ := fakeAPI(t, route{
		"PUT /api/tasks/reorder": func(w http.ResponseWriter, r *http.Request) {
			var batch []models.TaskOrder
			json.NewDecoder(r.Body).Decode(&batch)
			s := st.State()
			for _, entry := range batch {
				task, ok := s.Task(entry.ID)
				if !ok || task.StatusID != entry.StatusID || task.Order != entry.Order {
					t.Errorf("store has %+v while %+v is in flight", task, entry)
				}
			}
			writeJSON(w, http.StatusOK, []models.Task{})
		},
		"PUT /api/status/reorder": func(w http.ResponseWriter, r *http.Request) {
			var batch []models.ColumnOrder
			json.NewDecoder(r.Body).Decode(&batch)
			s := st.State()
			for _, entry := range batch {
				col, ok := s.Column(entry.ID)
				if !ok || col.Order != entry.Order {
					t.Errorf("store has %+v while %+v is in flight", col, entry)
				}
			}
			writeJSON(w, http.StatusOK, s.StatusColumns)
		},
	})
	c := newClient(srv, st, &recordingNotifier{}, models.RoleUser)

	if err := c.DropTask(context.Background(), reorder.TaskDrop{TaskID: "t2", OverTaskID: "t3"}); err != nil {
		t.Fatalf("drop task: %v", err)
	}
	if err := c.DropColumn(context.Background(), "A", "B"); err != nil {
		t.Fatalf("drop column: %v", err)
	}
	if cols := st.State().Columns(); cols[0].ID != "B" || cols[1].ID != "A" {
		t.Fatalf("columns = %+v", cols)
	}
}

func TestDropTaskFailureResyncs(t *testing.T) {
	canonical := models.Board{
		Statuses: board().StatusColumns,
		Tasks: []models.Task{
			{ID: "t1", ProjectID: "p1", StatusID: "A", Title: "one", Order: 0},
			{ID: "t2", ProjectID: "p1", StatusID: "A", Title: "two", Order: 1},
			{ID: "t3", ProjectID: "p1", StatusID: "B", Title: "three", Order: 0},
			{ID: "t4", ProjectID: "p1", StatusID: "B", Title: "from someone else", Order: 1},
		},
	}
	st := store.New(board())
	srv, _ := fakeAPI(t, route{
		"PUT /api/tasks/reorder": failWith(http.StatusNotFound, "task t9 not found"),
		"GET /api/board/p1": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, canonical)
		},
	})
	notes := &recordingNotifier{}
	c := newClient(srv, st, notes, models.RoleUser)

	err := c.DropTask(context.Background(), reorder.TaskDrop{TaskID: "t2", OverColumnID: "B"})
	if errs.StatusCode(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
	if got := mustJSON(t, st.State().Tasks); got != mustJSON(t, canonical.Tasks) {
		t.Fatalf("board not resynced: %s", got)
	}
	if _, failures := notes.counts(); failures != 1 {
		t.Fatalf("expected one error notice")
	}
}

func TestDiscardedDropsMakeNoRequest(t *testing.T) {
	tests := []struct {
		name string
		drop reorder.TaskDrop
	}{
		{"onto itself", reorder.TaskDrop{TaskID: "t1", OverTaskID: "t1"}},
		{"outside any target", reorder.TaskDrop{TaskID: "t1"}},
		{"unknown column", reorder.TaskDrop{TaskID: "t1", OverColumnID: "Z"}},
		{"same place", reorder.TaskDrop{TaskID: "t2", OverColumnID: "A"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.New(board())
			srv, hits := fakeAPI(t, route{})
			c := newClient(srv, st, &recordingNotifier{}, models.RoleUser)

			if err := c.DropTask(context.Background(), tt.drop); err != nil {
				t.Fatalf("drop: %v", err)
			}
			if atomic.LoadInt32(hits) != 0 {
				t.Fatalf("a discarded drop reached the server")
			}
			if mustJSON(t, st.State()) != mustJSON(t, board()) {
				t.Fatalf("a discarded drop changed the board")
			}
		})
	}
}

func TestDropColumn(t *testing.T) {
	st := store.New(board())
	batches := make(chan []models.ColumnOrder, 1)
	srv, _ := fakeAPI(t, route{
		"PUT /api/status/reorder": func(w http.ResponseWriter, r *http.Request) {
			var batch []models.ColumnOrder
			json.NewDecoder(r.Body).Decode(&batch)
			batches <- batch
			writeJSON(w, http.StatusOK, []models.StatusColumn{
				{ID: "B", ProjectID: "p1", Name: "Done", Order: 0},
				{ID: "A", ProjectID: "p1", Name: "To Do", Order: 1},
			})
		},
	})
	c := newClient(srv, st, &recordingNotifier{}, models.RoleUser)

	if err := c.DropColumn(context.Background(), "B", "A"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	want := []models.ColumnOrder{{ID: "B", Order: 0, ProjectID: "p1"}, {ID: "A", Order: 1, ProjectID: "p1"}}
	if batch := <-batches; !reflect.DeepEqual(batch, want) {
		t.Fatalf("batch = %+v", batch)
	}
	if cols := st.State().Columns(); cols[0].ID != "B" || cols[1].ID != "A" {
		t.Fatalf("columns = %+v", cols)
	}
}

func TestAdminOnlyActionsRejectedLocally(t *testing.T) {
	st := store.New(board())
	srv, hits := fakeAPI(t, route{})
	notes := &recordingNotifier{}
	c := newClient(srv, st, notes, models.RoleUser)
	ctx := context.Background()

	if _, err := c.CreateProject(ctx, "Gemini", ""); !errs.IsForbidden(err) {
		t.Fatalf("create project: %v", err)
	}
	if err := c.DeleteProject(ctx, "p1"); !errs.IsForbidden(err) {
		t.Fatalf("delete project: %v", err)
	}
	if err := c.DeleteColumn(ctx, "A"); !errs.IsForbidden(err) {
		t.Fatalf("delete column: %v", err)
	}
	if atomic.LoadInt32(hits) != 0 {
		t.Fatalf("rejected actions reached the server")
	}
	if mustJSON(t, st.State()) != mustJSON(t, board()) {
		t.Fatalf("rejected actions changed the board")
	}
	if _, failures := notes.counts(); failures != 3 {
		t.Fatalf("expected three error notices, got %d", failures)
	}
}

func TestFailedDeletesRestoreSnapshot(t *testing.T) {
	st := store.New(board())
	srv, _ := fakeAPI(t, route{
		"DELETE /api/tasks":       failWith(http.StatusInternalServerError, "Internal Server Error"),
		"DELETE /api/status":      failWith(http.StatusConflict, "cannot delete the last column"),
		"DELETE /api/projects/p1": failWith(http.StatusInternalServerError, "Internal Server Error"),
	})
	c := newClient(srv, st, &recordingNotifier{}, models.RoleAdmin)
	ctx := context.Background()

	if err := c.DeleteTask(ctx, "t1"); err == nil {
		t.Fatalf("expected task delete to fail")
	}
	if err := c.DeleteColumn(ctx, "A"); errs.StatusCode(err) != http.StatusConflict {
		t.Fatalf("expected 409, got %v", err)
	}
	if err := c.DeleteProject(ctx, "p1"); err == nil {
		t.Fatalf("expected project delete to fail")
	}
	if mustJSON(t, st.State()) != mustJSON(t, board()) {
		t.Fatalf("snapshot not restored: %+v", st.State())
	}
}

func TestUpdateTaskFailureRestores(t *testing.T) {
	st := store.New(board())
	srv, _ := fakeAPI(t, route{
		"PUT /api/tasks": failWith(http.StatusBadRequest, "priority must be low, medium or high"),
	})
	c := newClient(srv, st, &recordingNotifier{}, models.RoleUser)

	task, _ := st.State().Task("t1")
	task.Title = "renamed"
	task.StatusID = "B"
	if _, err := c.UpdateTask(context.Background(), task); errs.StatusCode(err) != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", err)
	}
	if mustJSON(t, st.State()) != mustJSON(t, board()) {
		t.Fatalf("update not rolled back")
	}
}

func TestLoadBoardFailure(t *testing.T) {
	st := store.New(store.State{Projects: board().Projects})
	srv, _ := fakeAPI(t, route{
		"GET /api/board/p1": failWith(http.StatusInternalServerError, "Internal Server Error"),
	})
	notes := &recordingNotifier{}
	c := newClient(srv, st, notes, models.RoleUser)

	if err := c.LoadBoard(context.Background(), "p1"); err == nil {
		t.Fatalf("expected an error")
	}
	s := st.State()
	if s.Loading || s.ActiveProjectID != "p1" {
		t.Fatalf("unexpected state after failed load: %+v", s)
	}
	if _, failures := notes.counts(); failures != 1 {
		t.Fatalf("expected an error notice")
	}
}

// liveServer runs the real API with an in-process hub.
func liveServer(t *testing.T) *httptest.Server {
	t.Helper()

	conn, err := database.InitDB(filepath.Join(t.TempDir(), "client.db"))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	db := database.New(conn)
	t.Cleanup(func() { db.Close() })

	auth := services.NewAuthService("test-secret", time.Hour)
	if err := auth.EnsureAdmin(context.Background(), db.Users(), "admin@example.com", "password", "Admin"); err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	hash, err := auth.HashPassword("password")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if _, err := db.Users().Create(context.Background(), models.User{
		Email: "user@example.com", Name: "User", PasswordHash: hash, Role: models.RoleUser,
	}); err != nil {
		t.Fatalf("create user: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	hub := services.NewHub()
	go hub.Run(ctx)

	srv := httptest.NewServer(handlers.NewRouter(handlers.Deps{DB: db, Auth: auth, Hub: hub}))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv
}

func signIn(t *testing.T, srv *httptest.Server, email string) *Client {
	t.Helper()
	c := New(srv.URL+"/api", store.New(store.State{}), WithHTTPClient(srv.Client()), WithNotifier(&recordingNotifier{}))
	if _, err := c.Login(context.Background(), email, "password"); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	return c
}

func waitFor(t *testing.T, st *store.Store, what string, cond func(store.State) bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond(st.State()) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s: %+v", what, st.State())
}

func TestClientsConvergeThroughBroadcasts(t *testing.T) {
	srv := liveServer(t)
	ctx := context.Background()

	alice := signIn(t, srv, "admin@example.com")
	bob := signIn(t, srv, "user@example.com")

	project, err := alice.CreateProject(ctx, "Apollo", "moon")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}

	var subs []*Subscription
	for _, c := range []*Client{alice, bob} {
		if err := c.LoadProjects(ctx); err != nil {
			t.Fatalf("load projects: %v", err)
		}
		if err := c.LoadBoard(ctx, project.ID); err != nil {
			t.Fatalf("load board: %v", err)
		}
		for _, channel := range []string{models.ProjectChannel(project.ID), models.ProjectsChannel} {
			sub, err := c.Subscribe(ctx, channel)
			if err != nil {
				t.Fatalf("subscribe %s: %v", channel, err)
			}
			subs = append(subs, sub)
		}
	}
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	columns := alice.Store().State().Columns()
	if len(columns) != 3 {
		t.Fatalf("expected the default columns, got %+v", columns)
	}
	todo, doing := columns[0].ID, columns[1].ID

	task, err := alice.CreateTask(ctx, models.Task{
		ProjectID: project.ID, StatusID: todo, Title: "Land", Assignee: "alice", Priority: models.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	waitFor(t, bob.Store(), "the new task", func(s store.State) bool {
		_, ok := s.Task(task.ID)
		return ok
	})

	if err := bob.DropTask(ctx, reorder.TaskDrop{TaskID: task.ID, OverColumnID: doing}); err != nil {
		t.Fatalf("drop: %v", err)
	}
	moved := func(s store.State) bool {
		got, ok := s.Task(task.ID)
		return ok && got.StatusID == doing && got.Order == 0
	}
	waitFor(t, alice.Store(), "the move", moved)
	waitFor(t, bob.Store(), "the move", moved)
	if a, b := mustJSON(t, alice.Store().State().Tasks), mustJSON(t, bob.Store().State().Tasks); a != b {
		t.Fatalf("stores diverged:\n%s\n%s", a, b)
	}

	if err := alice.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	waitFor(t, bob.Store(), "the project deletion", func(s store.State) bool {
		_, ok := s.Project(project.ID)
		return !ok && s.ActiveProjectID == "" && len(s.Tasks) == 0
	})
}

func TestSubscriptionClose(t *testing.T) {
	srv := liveServer(t)
	c := signIn(t, srv, "user@example.com")

	sub, err := c.Subscribe(context.Background(), models.ProjectsChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-sub.Done():
	default:
		t.Fatalf("read loop still running after Close")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err = c.Subscribe(ctx, models.ProjectsChannel)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	cancel()
	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("cancelling the context did not end the subscription")
	}
}

func TestSubscribeRequiresToken(t *testing.T) {
	srv := liveServer(t)
	c := New(srv.URL+"/api", store.New(store.State{}))

	if _, err := c.Subscribe(context.Background(), models.ProjectsChannel); err == nil {
		t.Fatalf("expected the handshake to be refused")
	}
}
