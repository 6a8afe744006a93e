package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
	"github.com/google/uuid"
)

type TaskRepo struct {
	db *sql.DB
}

const taskColumns = `id, project_id, status_id, title, description, assignee, due_date, priority, tags, github_link, sort_order`

func (r *TaskRepo) ListByProject(ctx context.Context, projectID string) ([]models.Task, error) {
	return listTasks(ctx, r.db, projectID)
}

func (r *TaskRepo) FindByID(ctx context.Context, id string) (*models.Task, error) {
	return findTask(ctx, r.db, id)
}

// Create appends the task to the end of its column.
func (r *TaskRepo) Create(ctx context.Context, task models.Task) (*models.Task, error) {
	task.ID = uuid.NewString()
	if task.Tags == nil {
		task.Tags = models.Tags{}
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := findProject(ctx, tx, task.ProjectID); err != nil {
			return err
		}
		if err := checkColumnInProject(ctx, tx, task.StatusID, task.ProjectID); err != nil {
			return err
		}

		order, err := countColumnTasks(ctx, tx, task.ProjectID, task.StatusID)
		if err != nil {
			return err
		}
		task.Order = order

		tags, err := json.Marshal(task.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			task.ID, task.ProjectID, task.StatusID, task.Title, task.Description, task.Assignee,
			task.DueDate, string(task.Priority), string(tags), task.GithubLink, task.Order); err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// TaskPatch carries the optional fields of a task update.
type TaskPatch struct {
	Title       *string
	Description *string
	Assignee    *string
	DueDate     *string
	Priority    *models.Priority
	Tags        *models.Tags
	GithubLink  *string
	StatusID    *string

	// ClearDescription, ClearDueDate and ClearGithubLink null the field out.
	ClearDescription bool
	ClearDueDate     bool
	ClearGithubLink  bool
}

// Update applies patch. Changing the column appends the task to the end of
// the destination and closes the gap it left behind.
func (r *TaskRepo) Update(ctx context.Context, id string, patch TaskPatch) (*models.Task, error) {
	var updated *models.Task
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		task, err := findTask(ctx, tx, id)
		if err != nil {
			return err
		}
		sourceStatus := task.StatusID

		if patch.Title != nil {
			task.Title = *patch.Title
		}
		if patch.Assignee != nil {
			task.Assignee = *patch.Assignee
		}
		if patch.Priority != nil {
			task.Priority = *patch.Priority
		}
		if patch.Tags != nil {
			task.Tags = *patch.Tags
		}
		task.Description = pick(task.Description, patch.Description, patch.ClearDescription)
		task.DueDate = pick(task.DueDate, patch.DueDate, patch.ClearDueDate)
		task.GithubLink = pick(task.GithubLink, patch.GithubLink, patch.ClearGithubLink)

		moved := patch.StatusID != nil && *patch.StatusID != sourceStatus
		if moved {
			if err := checkColumnInProject(ctx, tx, *patch.StatusID, task.ProjectID); err != nil {
				return err
			}
			task.StatusID = *patch.StatusID
			order, err := countColumnTasks(ctx, tx, task.ProjectID, task.StatusID)
			if err != nil {
				return err
			}
			task.Order = order
		}

		tags, err := json.Marshal(task.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status_id = ?, title = ?, description = ?, assignee = ?, due_date = ?,
			 priority = ?, tags = ?, github_link = ?, sort_order = ? WHERE id = ?`,
			task.StatusID, task.Title, task.Description, task.Assignee, task.DueDate,
			string(task.Priority), string(tags), task.GithubLink, task.Order, task.ID); err != nil {
			return fmt.Errorf("failed to update task: %w", err)
		}

		if moved {
			if err := densifyTasks(ctx, tx, task.ProjectID, sourceStatus, nil); err != nil {
				return err
			}
		}
		updated = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a task. Deleting a missing task is not an error; the
// returned task is nil in that case.
func (r *TaskRepo) Delete(ctx context.Context, id string) (*models.Task, error) {
	task, err := findTask(ctx, r.db, id)
	if err != nil {
		if errs.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return nil, fmt.Errorf("failed to delete task: %w", err)
	}
	return task, nil
}

type columnKey struct {
	projectID string
	statusID  string
}

// ReorderResult describes a committed task reorder.
type ReorderResult struct {
	// Projects lists every project touched by the batch, in batch order.
	Projects []string
	// Tasks holds the renumbered contents of every affected column.
	Tasks []models.Task
}

// Reorder applies a batch of task positions as one transaction. Every id must
// exist and every statusId must be a column of the task's project, otherwise
// nothing is written. Each affected column, including columns a task left,
// ends up numbered 0..n-1.
func (r *TaskRepo) Reorder(ctx context.Context, batch []models.TaskOrder) (*ReorderResult, error) {
	result := &ReorderResult{}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		ranks := make(map[string]int, len(batch))
		var groups []columnKey
		seenGroup := map[columnKey]bool{}
		seenProject := map[string]bool{}
		addGroup := func(k columnKey) {
			if !seenGroup[k] {
				seenGroup[k] = true
				groups = append(groups, k)
			}
			if !seenProject[k.projectID] {
				seenProject[k.projectID] = true
				result.Projects = append(result.Projects, k.projectID)
			}
		}

		for i, entry := range batch {
			task, err := findTask(ctx, tx, entry.ID)
			if err != nil {
				return err
			}
			if entry.ProjectID != "" && entry.ProjectID != task.ProjectID {
				return errs.NewInvalidFieldError("projectId", fmt.Sprintf("task %s belongs to another project", task.ID))
			}
			if err := checkColumnInProject(ctx, tx, entry.StatusID, task.ProjectID); err != nil {
				return err
			}

			addGroup(columnKey{task.ProjectID, entry.StatusID})
			addGroup(columnKey{task.ProjectID, task.StatusID})

			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET status_id = ?, sort_order = ? WHERE id = ?`,
				entry.StatusID, entry.Order, entry.ID); err != nil {
				return fmt.Errorf("failed to update task order: %w", err)
			}
			ranks[entry.ID] = i
		}

		for _, g := range groups {
			if err := densifyTasks(ctx, tx, g.projectID, g.statusID, ranks); err != nil {
				return err
			}
		}

		for _, g := range groups {
			tasks, err := listColumnTasks(ctx, tx, g.projectID, g.statusID)
			if err != nil {
				return err
			}
			result.Tasks = append(result.Tasks, tasks...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// densifyTasks renumbers one column to 0..n-1 the way densifyColumns does.
func densifyTasks(ctx context.Context, tx *sql.Tx, projectID, statusID string, ranks map[string]int) error {
	tasks, err := listColumnTasks(ctx, tx, projectID, statusID)
	if err != nil {
		return err
	}

	var pinned, rest []reorder.Entry
	current := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if rank, ok := ranks[t.ID]; ok {
			pinned = append(pinned, reorder.Entry{ID: t.ID, Order: t.Order, Rank: rank})
		} else {
			rest = append(rest, reorder.Entry{ID: t.ID, Order: t.Order})
		}
		current[t.ID] = t.Order
	}

	for i, id := range reorder.Place(pinned, rest) {
		if current[id] == i {
			continue
		}
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET sort_order = ? WHERE id = ?`, i, id); err != nil {
			return fmt.Errorf("failed to renumber task: %w", err)
		}
	}
	return nil
}

func checkColumnInProject(ctx context.Context, q querier, statusID, projectID string) error {
	col, err := findColumn(ctx, q, statusID)
	if err != nil {
		if errs.IsNotFound(err) {
			return errs.NewInvalidFieldError("statusId", fmt.Sprintf("status column %s does not exist", statusID))
		}
		return err
	}
	if col.ProjectID != projectID {
		return errs.NewInvalidFieldError("statusId", fmt.Sprintf("status column %s belongs to another project", statusID))
	}
	return nil
}

func countColumnTasks(ctx context.Context, q querier, projectID, statusID string) (int, error) {
	var n int
	if err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE project_id = ? AND status_id = ?`, projectID, statusID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return n, nil
}

func findTask(ctx context.Context, q querier, id string) (*models.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

func listTasks(ctx context.Context, q querier, projectID string) ([]models.Task, error) {
	return queryTasks(ctx, q,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY sort_order, id`, projectID)
}

func listColumnTasks(ctx context.Context, q querier, projectID, statusID string) ([]models.Task, error) {
	return queryTasks(ctx, q,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? AND status_id = ? ORDER BY sort_order, id`,
		projectID, statusID)
}

func queryTasks(ctx context.Context, q querier, query string, args ...any) ([]models.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []models.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*models.Task, error) {
	var t models.Task
	var priority, tags string
	var description, dueDate, githubLink sql.NullString
	if err := s.Scan(&t.ID, &t.ProjectID, &t.StatusID, &t.Title, &description, &t.Assignee,
		&dueDate, &priority, &tags, &githubLink, &t.Order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}

	t.Priority = models.Priority(priority)
	t.Description = nullable(description)
	t.DueDate = nullable(dueDate)
	t.GithubLink = nullable(githubLink)
	if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}
	return &t, nil
}

func nullable(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func pick(current, next *string, clear bool) *string {
	if clear {
		return nil
	}
	if next != nil {
		return next
	}
	return current
}
