package store

import (
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
)

// Action is a state transition. The set of actions is closed.
type Action interface {
	isAction()
}

// Set* actions replace a whole collection. They are how canonical server state
// reaches the store, and they always win over local edits.
type (
	SetProjects struct {
		Projects []models.Project
	}

	// SetTasks is ignored unless ProjectID is the active project.
	SetTasks struct {
		ProjectID string
		Tasks     []models.Task
	}

	// SetStatusColumns is ignored unless ProjectID is the active project.
	SetStatusColumns struct {
		ProjectID string
		Columns   []models.StatusColumn
	}
)

// Single-entity edits, applied optimistically before the server confirms.
// Update* actions replace the entity named ID, which lets a temporary id be
// swapped for the one the server assigned.
type (
	AddProject struct {
		Project models.Project
	}
	UpdateProject struct {
		ID      string
		Project models.Project
	}
	// DeleteProject also drops the board when the project is active.
	DeleteProject struct {
		ID string
	}

	AddTask struct {
		Task models.Task
	}
	UpdateTask struct {
		ID   string
		Task models.Task
	}
	DeleteTask struct {
		ID string
	}
	// MoveTask splices a dragged task into place and renumbers the touched
	// columns. Invalid drops leave the state unchanged.
	MoveTask struct {
		Drop reorder.TaskDrop
	}

	AddStatusColumn struct {
		Column models.StatusColumn
	}
	UpdateStatusColumn struct {
		ID     string
		Column models.StatusColumn
	}
	// DeleteStatusColumn moves the column's tasks to the end of the leftmost
	// remaining column. A column whose tasks have nowhere to go is kept.
	DeleteStatusColumn struct {
		ID string
	}
	// ReorderStatusColumns moves ActiveID onto OverID's position, or to the
	// end when OverID is empty.
	ReorderStatusColumns struct {
		ActiveID string
		OverID   string
	}

	// ApplyTaskOrders writes a reorder batch into the board and renumbers the
	// columns it touched the same way the server does. Unknown ids are skipped.
	ApplyTaskOrders struct {
		Orders []models.TaskOrder
	}
	// ApplyColumnOrders is ApplyTaskOrders for status columns.
	ApplyColumnOrders struct {
		Orders []models.ColumnOrder
	}
)

type (
	// SetActiveProject switches boards. The previous board is dropped.
	SetActiveProject struct {
		ID string
	}
	SetLoading struct {
		Loading bool
	}
	// Restore puts back a snapshot taken before an optimistic edit.
	Restore struct {
		State State
	}
)

func (SetProjects) isAction()          {}
func (SetTasks) isAction()             {}
func (SetStatusColumns) isAction()     {}
func (AddProject) isAction()           {}
func (UpdateProject) isAction()        {}
func (DeleteProject) isAction()        {}
func (AddTask) isAction()              {}
func (UpdateTask) isAction()           {}
func (DeleteTask) isAction()           {}
func (MoveTask) isAction()             {}
func (AddStatusColumn) isAction()      {}
func (UpdateStatusColumn) isAction()   {}
func (DeleteStatusColumn) isAction()   {}
func (ReorderStatusColumns) isAction() {}
func (ApplyTaskOrders) isAction()      {}
func (ApplyColumnOrders) isAction()    {}
func (SetActiveProject) isAction()     {}
func (SetLoading) isAction()           {}
func (Restore) isAction()              {}

// Reduce returns the state that follows s after a. It never modifies s.
func Reduce(s State, a Action) State {
	next := s.Clone()

	switch a := a.(type) {
	case SetProjects:
		next.Projects = append([]models.Project(nil), a.Projects...)
		if next.ActiveProjectID != "" {
			if _, ok := next.Project(next.ActiveProjectID); !ok {
				next = clearBoard(next)
			}
		}

	case SetTasks:
		if a.ProjectID != next.ActiveProjectID {
			return s
		}
		next.Tasks = State{Tasks: a.Tasks}.Clone().Tasks

	case SetStatusColumns:
		if a.ProjectID != next.ActiveProjectID {
			return s
		}
		next.StatusColumns = append([]models.StatusColumn(nil), a.Columns...)

	case AddProject:
		next.Projects = append([]models.Project{a.Project}, next.Projects...)

	case UpdateProject:
		for i, p := range next.Projects {
			if p.ID == a.ID {
				next.Projects[i] = a.Project
			}
		}

	case DeleteProject:
		kept := next.Projects[:0]
		for _, p := range next.Projects {
			if p.ID != a.ID {
				kept = append(kept, p)
			}
		}
		next.Projects = kept
		if next.ActiveProjectID == a.ID {
			next = clearBoard(next)
		}

	case SetActiveProject:
		if a.ID != next.ActiveProjectID {
			next.ActiveProjectID = a.ID
			next.Tasks = nil
			next.StatusColumns = nil
		}

	case AddTask:
		if a.Task.ProjectID != next.ActiveProjectID {
			return s
		}
		next.Tasks = append(next.Tasks, cloneTask(a.Task))

	case UpdateTask:
		for i, t := range next.Tasks {
			if t.ID == a.ID {
				next.Tasks[i] = cloneTask(a.Task)
			}
		}

	case DeleteTask:
		next.Tasks = removeTask(next.Tasks, a.ID)

	case MoveTask:
		if a.Drop.OverTaskID == "" && a.Drop.OverColumnID != "" {
			if _, ok := next.Column(a.Drop.OverColumnID); !ok {
				return s
			}
		}
		move, err := reorder.MoveTask(next.Tasks, a.Drop)
		if err != nil || !move.Changed {
			return s
		}
		next.Tasks = move.Tasks

	case AddStatusColumn:
		if a.Column.ProjectID != next.ActiveProjectID {
			return s
		}
		next.StatusColumns = append(next.StatusColumns, a.Column)

	case UpdateStatusColumn:
		for i, c := range next.StatusColumns {
			if c.ID == a.ID {
				next.StatusColumns[i] = a.Column
			}
		}

	case DeleteStatusColumn:
		return deleteColumn(s, next, a.ID)

	case ReorderStatusColumns:
		move, err := reorder.MoveColumn(next.StatusColumns, a.ActiveID, a.OverID)
		if err != nil || !move.Changed {
			return s
		}
		next.StatusColumns = move.Columns

	case ApplyTaskOrders:
		next.Tasks = applyTaskOrders(next.Tasks, a.Orders)

	case ApplyColumnOrders:
		next.StatusColumns = applyColumnOrders(next.StatusColumns, a.Orders)

	case SetLoading:
		next.Loading = a.Loading

	case Restore:
		return a.State.Clone()
	}

	return next
}

func applyTaskOrders(tasks []models.Task, orders []models.TaskOrder) []models.Task {
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}

	ranks := make(map[string]int, len(orders))
	touched := map[string]bool{}
	for i, o := range orders {
		at, ok := index[o.ID]
		if !ok {
			continue
		}
		touched[tasks[at].StatusID] = true
		touched[o.StatusID] = true
		tasks[at].StatusID = o.StatusID
		tasks[at].Order = o.Order
		ranks[o.ID] = i
	}

	for status := range touched {
		var pinned, rest []reorder.Entry
		for _, t := range tasks {
			if t.StatusID != status {
				continue
			}
			if rank, ok := ranks[t.ID]; ok {
				pinned = append(pinned, reorder.Entry{ID: t.ID, Order: t.Order, Rank: rank})
			} else {
				rest = append(rest, reorder.Entry{ID: t.ID, Order: t.Order})
			}
		}
		for i, id := range reorder.Place(pinned, rest) {
			tasks[index[id]].Order = i
		}
	}
	return tasks
}

func applyColumnOrders(columns []models.StatusColumn, orders []models.ColumnOrder) []models.StatusColumn {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[c.ID] = i
	}

	ranks := make(map[string]int, len(orders))
	touched := map[string]bool{}
	for i, o := range orders {
		at, ok := index[o.ID]
		if !ok {
			continue
		}
		touched[columns[at].ProjectID] = true
		columns[at].Order = o.Order
		ranks[o.ID] = i
	}

	for projectID := range touched {
		var pinned, rest []reorder.Entry
		for _, c := range columns {
			if c.ProjectID != projectID {
				continue
			}
			if rank, ok := ranks[c.ID]; ok {
				pinned = append(pinned, reorder.Entry{ID: c.ID, Order: c.Order, Rank: rank})
			} else {
				rest = append(rest, reorder.Entry{ID: c.ID, Order: c.Order})
			}
		}
		for i, id := range reorder.Place(pinned, rest) {
			columns[index[id]].Order = i
		}
	}
	return columns
}

func clearBoard(s State) State {
	s.ActiveProjectID = ""
	s.Tasks = nil
	s.StatusColumns = nil
	return s
}

func removeTask(tasks []models.Task, id string) []models.Task {
	kept := tasks[:0]
	for _, t := range tasks {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	return kept
}

func deleteColumn(prev, next State, id string) State {
	if _, ok := next.Column(id); !ok {
		return prev
	}

	var remaining []models.StatusColumn
	for _, c := range next.Columns() {
		if c.ID != id {
			remaining = append(remaining, c)
		}
	}
	if len(remaining) == 0 {
		if len(next.ColumnTasks(id)) > 0 {
			return prev
		}
		next.StatusColumns = nil
		return next
	}
	fallback := remaining[0].ID

	for i := range remaining {
		remaining[i].Order = i
	}
	next.StatusColumns = remaining

	tail := len(next.ColumnTasks(fallback))
	for _, orphan := range next.ColumnTasks(id) {
		for i := range next.Tasks {
			if next.Tasks[i].ID == orphan.ID {
				next.Tasks[i].StatusID = fallback
				next.Tasks[i].Order = tail
				tail++
			}
		}
	}
	return next
}
