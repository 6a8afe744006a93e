// Package reorder turns drag gestures on a board into dense order assignments.
//
// Tasks are grouped by (projectId, statusId) and columns by projectId. A move
// removes the dragged entity from its group, splices it into the destination
// group at the index of the entity it was dropped on (or appends it), and
// renumbers every touched group to 0..n-1.
package reorder

import (
	"errors"
	"sort"

	"github.com/CrowderSoup/devtrack/models"
)

var (
	// ErrUnknownEntity is returned when the dragged id is not on the board.
	ErrUnknownEntity = errors.New("dragged entity is not on the board")
	// ErrNoTarget is returned when the drop landed outside any valid target.
	ErrNoTarget = errors.New("drop target is not valid")
)

// TaskDrop describes where a dragged task was released. Exactly one of
// OverTaskID and OverColumnID should be set.
type TaskDrop struct {
	TaskID       string
	OverTaskID   string
	OverColumnID string
}

// TaskMove is the outcome of a task drop.
type TaskMove struct {
	// Tasks is the full task list after the move, in the input's traversal order.
	Tasks []models.Task
	// Batch holds the destination group and, when different, the source group.
	Batch   []models.TaskOrder
	Changed bool
}

// MoveTask applies a drop to tasks without mutating the input slice.
func MoveTask(tasks []models.Task, drop TaskDrop) (TaskMove, error) {
	moving, ok := findTask(tasks, drop.TaskID)
	if !ok {
		return TaskMove{}, ErrUnknownEntity
	}
	if drop.OverTaskID == drop.TaskID {
		return TaskMove{Tasks: cloneTasks(tasks)}, nil
	}

	var destStatus string
	switch {
	case drop.OverTaskID != "":
		over, ok := findTask(tasks, drop.OverTaskID)
		if !ok || over.ProjectID != moving.ProjectID {
			return TaskMove{}, ErrNoTarget
		}
		destStatus = over.StatusID
	case drop.OverColumnID != "":
		destStatus = drop.OverColumnID
	default:
		return TaskMove{}, ErrNoTarget
	}

	source := taskGroup(tasks, moving.ProjectID, moving.StatusID, moving.ID)
	dest := source
	if destStatus != moving.StatusID {
		dest = taskGroup(tasks, moving.ProjectID, destStatus, moving.ID)
	}

	insertAt := len(dest)
	if drop.OverTaskID != "" {
		for i, t := range dest {
			if t.ID == drop.OverTaskID {
				insertAt = i
				break
			}
		}
	}

	moved := moving
	moved.StatusID = destStatus
	dest = spliceTask(dest, insertAt, moved)

	updated := make(map[string]models.Task, len(dest)+len(source))
	var batch []models.TaskOrder
	for i := range dest {
		dest[i].Order = i
		updated[dest[i].ID] = dest[i]
		batch = append(batch, taskOrder(dest[i]))
	}
	if destStatus != moving.StatusID {
		for i := range source {
			source[i].Order = i
			updated[source[i].ID] = source[i]
			batch = append(batch, taskOrder(source[i]))
		}
	}

	out := make([]models.Task, len(tasks))
	changed := false
	for i, t := range tasks {
		if u, ok := updated[t.ID]; ok {
			if u.Order != t.Order || u.StatusID != t.StatusID {
				changed = true
			}
			out[i] = u
			continue
		}
		out[i] = t
	}
	if !changed {
		return TaskMove{Tasks: out}, nil
	}
	return TaskMove{Tasks: out, Batch: batch, Changed: true}, nil
}

// ColumnMove is the outcome of a column drop.
type ColumnMove struct {
	Columns []models.StatusColumn
	Batch   []models.ColumnOrder
	Changed bool
}

// MoveColumn moves activeID onto the position of overID within its project.
// An empty overID appends the column to the end of the board.
func MoveColumn(columns []models.StatusColumn, activeID, overID string) (ColumnMove, error) {
	var moving models.StatusColumn
	found := false
	for _, c := range columns {
		if c.ID == activeID {
			moving, found = c, true
			break
		}
	}
	if !found {
		return ColumnMove{}, ErrUnknownEntity
	}
	if overID == activeID {
		return ColumnMove{Columns: cloneColumns(columns)}, nil
	}

	var all []models.StatusColumn
	for _, c := range columns {
		if c.ProjectID == moving.ProjectID {
			all = append(all, c)
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].Order < all[j].Order })

	from, to := -1, len(all)-1
	if overID != "" {
		to = -1
	}
	for i, c := range all {
		switch c.ID {
		case activeID:
			from = i
		case overID:
			to = i
		}
	}
	if to < 0 {
		return ColumnMove{}, ErrNoTarget
	}

	// The moved column takes the target's slot and the columns between shift
	// toward where it came from.
	group := make([]models.StatusColumn, 0, len(all))
	group = append(group, all[:from]...)
	group = append(group, all[from+1:]...)
	group = append(group, models.StatusColumn{})
	copy(group[to+1:], group[to:])
	group[to] = moving

	updated := make(map[string]int, len(group))
	batch := make([]models.ColumnOrder, 0, len(group))
	for i := range group {
		group[i].Order = i
		updated[group[i].ID] = i
		batch = append(batch, models.ColumnOrder{ID: group[i].ID, Order: i, ProjectID: group[i].ProjectID})
	}

	out := make([]models.StatusColumn, len(columns))
	changed := false
	for i, c := range columns {
		if order, ok := updated[c.ID]; ok {
			if order != c.Order {
				changed = true
			}
			c.Order = order
		}
		out[i] = c
	}
	if !changed {
		return ColumnMove{Columns: out}, nil
	}
	return ColumnMove{Columns: out, Batch: batch, Changed: true}, nil
}

// Entry is one member of a containment group awaiting renumbering.
type Entry struct {
	ID    string
	Order int
	// Rank breaks ties between equal orders; lower ranks come first.
	Rank int
}

// Densify sorts entries by requested order, then rank, then id, and returns the
// ids in their final sequence. Position i in the result is order i.
func Densify(entries []Entry) []string {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Order != b.Order {
			return a.Order < b.Order
		}
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.ID < b.ID
	})

	ids := make([]string, len(sorted))
	for i, e := range sorted {
		ids[i] = e.ID
	}
	return ids
}

// Place lays entries out in slots 0..n-1 and returns their ids by slot.
// Pinned entries, by rank, take the slot named by their order or the nearest
// free one after it. The rest keep their relative order and fill the free
// slots.
func Place(pinned, rest []Entry) []string {
	n := len(pinned) + len(rest)
	slots := make([]string, n)
	taken := make([]bool, n)

	claims := make([]Entry, len(pinned))
	copy(claims, pinned)
	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].Rank != claims[j].Rank {
			return claims[i].Rank < claims[j].Rank
		}
		return claims[i].ID < claims[j].ID
	})
	for _, e := range claims {
		at := min(max(e.Order, 0), n-1)
		for at < n && taken[at] {
			at++
		}
		if at == n {
			at = n - 1
			for taken[at] {
				at--
			}
		}
		slots[at], taken[at] = e.ID, true
	}

	fill := Densify(rest)
	next := 0
	for i := range slots {
		if !taken[i] {
			slots[i] = fill[next]
			next++
		}
	}
	return slots
}

// IsDense reports whether orders is a permutation of 0..len(orders)-1.
func IsDense(orders []int) bool {
	seen := make([]bool, len(orders))
	for _, o := range orders {
		if o < 0 || o >= len(orders) || seen[o] {
			return false
		}
		seen[o] = true
	}
	return true
}

// SortTasks orders tasks the way a column renders them.
func SortTasks(tasks []models.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
}

// SortColumns orders columns left to right.
func SortColumns(columns []models.StatusColumn) {
	sort.SliceStable(columns, func(i, j int) bool {
		if columns[i].Order != columns[j].Order {
			return columns[i].Order < columns[j].Order
		}
		return columns[i].ID < columns[j].ID
	})
}

func findTask(tasks []models.Task, id string) (models.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}

// taskGroup returns the column's tasks, minus exclude, sorted by order.
func taskGroup(tasks []models.Task, projectID, statusID, exclude string) []models.Task {
	var group []models.Task
	for _, t := range tasks {
		if t.ProjectID == projectID && t.StatusID == statusID && t.ID != exclude {
			group = append(group, t)
		}
	}
	sort.SliceStable(group, func(i, j int) bool { return group[i].Order < group[j].Order })
	return group
}

func spliceTask(group []models.Task, at int, t models.Task) []models.Task {
	out := make([]models.Task, 0, len(group)+1)
	out = append(out, group[:at]...)
	out = append(out, t)
	return append(out, group[at:]...)
}

func taskOrder(t models.Task) models.TaskOrder {
	return models.TaskOrder{ID: t.ID, StatusID: t.StatusID, Order: t.Order, ProjectID: t.ProjectID}
}

func cloneTasks(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	copy(out, tasks)
	return out
}

func cloneColumns(columns []models.StatusColumn) []models.StatusColumn {
	out := make([]models.StatusColumn, len(columns))
	copy(out, columns)
	return out
}
