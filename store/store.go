// Package store holds the client-side view of a board. State changes only
// through Reduce, which never mutates the state it is given.
package store

import (
	"sync"

	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
)

// State is one snapshot of the client view. Tasks and StatusColumns belong to
// the active project only.
type State struct {
	Projects        []models.Project      `json:"projects"`
	ActiveProjectID string                `json:"activeProjectId"`
	Tasks           []models.Task         `json:"tasks"`
	StatusColumns   []models.StatusColumn `json:"statusColumns"`
	Loading         bool                  `json:"loading"`
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	out := s
	out.Projects = append([]models.Project(nil), s.Projects...)
	out.StatusColumns = append([]models.StatusColumn(nil), s.StatusColumns...)
	out.Tasks = make([]models.Task, len(s.Tasks))
	for i, t := range s.Tasks {
		out.Tasks[i] = cloneTask(t)
	}
	if s.Tasks == nil {
		out.Tasks = nil
	}
	return out
}

// Task returns the task with id.
func (s State) Task(id string) (models.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// Column returns the status column with id.
func (s State) Column(id string) (models.StatusColumn, bool) {
	for _, c := range s.StatusColumns {
		if c.ID == id {
			return c, true
		}
	}
	return models.StatusColumn{}, false
}

// Project returns the project with id.
func (s State) Project(id string) (models.Project, bool) {
	for _, p := range s.Projects {
		if p.ID == id {
			return p, true
		}
	}
	return models.Project{}, false
}

// ColumnTasks returns the tasks of one column, top to bottom.
func (s State) ColumnTasks(statusID string) []models.Task {
	var out []models.Task
	for _, t := range s.Tasks {
		if t.StatusID == statusID {
			out = append(out, t)
		}
	}
	reorder.SortTasks(out)
	return out
}

// Columns returns the status columns left to right.
func (s State) Columns() []models.StatusColumn {
	out := append([]models.StatusColumn(nil), s.StatusColumns...)
	reorder.SortColumns(out)
	return out
}

// Store is a State guarded for concurrent use. Listeners run after every
// dispatch, outside the lock, in registration order.
type Store struct {
	mu        sync.RWMutex
	state     State
	listeners []listener
	nextID    int
}

type listener struct {
	id int
	fn func(State)
}

func New(initial State) *Store {
	return &Store{state: initial.Clone()}
}

// State returns a copy of the current snapshot.
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Dispatch applies actions in order and returns the resulting snapshot.
func (s *Store) Dispatch(actions ...Action) State {
	s.mu.Lock()
	for _, a := range actions {
		s.state = Reduce(s.state, a)
	}
	snapshot := s.state.Clone()
	listeners := append([]listener(nil), s.listeners...)
	s.mu.Unlock()

	for _, l := range listeners {
		l.fn(snapshot.Clone())
	}
	return snapshot
}

// Subscribe registers fn for future snapshots. The returned func removes it.
func (s *Store) Subscribe(fn func(State)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func cloneTask(t models.Task) models.Task {
	t.Tags = append(models.Tags(nil), t.Tags...)
	t.Description = cloneString(t.Description)
	t.DueDate = cloneString(t.DueDate)
	t.GithubLink = cloneString(t.GithubLink)
	return t
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
