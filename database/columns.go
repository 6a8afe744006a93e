package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/CrowderSoup/devtrack/reorder"
	"github.com/google/uuid"
)

type ColumnRepo struct {
	db *sql.DB
}

func (r *ColumnRepo) ListByProject(ctx context.Context, projectID string) ([]models.StatusColumn, error) {
	return listColumns(ctx, r.db, projectID)
}

func (r *ColumnRepo) FindByID(ctx context.Context, id string) (*models.StatusColumn, error) {
	return findColumn(ctx, r.db, id)
}

// Create appends a column to the end of the project's board.
func (r *ColumnRepo) Create(ctx context.Context, projectID, name, color string) (*models.StatusColumn, error) {
	col := models.StatusColumn{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      name,
		Color:     color,
	}

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := findProject(ctx, tx, projectID); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM status_columns WHERE project_id = ?`, projectID).Scan(&col.Order); err != nil {
			return fmt.Errorf("failed to count status columns: %w", err)
		}
		return insertColumn(ctx, tx, col)
	})
	if err != nil {
		return nil, err
	}
	return &col, nil
}

// ColumnPatch carries the optional fields of a column update.
type ColumnPatch struct {
	Name  *string
	Color *string
	Order *int
}

// Update applies patch. A new order moves the column to that position and
// renumbers its siblings.
func (r *ColumnRepo) Update(ctx context.Context, id string, patch ColumnPatch) (*models.StatusColumn, error) {
	var updated *models.StatusColumn
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		col, err := findColumn(ctx, tx, id)
		if err != nil {
			return err
		}
		if patch.Name != nil {
			col.Name = *patch.Name
		}
		if patch.Color != nil {
			col.Color = *patch.Color
		}
		if patch.Order != nil {
			col.Order = *patch.Order
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE status_columns SET name = ?, color = ?, sort_order = ? WHERE id = ?`,
			col.Name, col.Color, col.Order, col.ID); err != nil {
			return fmt.Errorf("failed to update status column: %w", err)
		}

		if patch.Order != nil {
			if err := densifyColumns(ctx, tx, col.ProjectID, map[string]int{col.ID: 0}); err != nil {
				return err
			}
			if col, err = findColumn(ctx, tx, id); err != nil {
				return err
			}
		}
		updated = col
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes a column. Its tasks move to the end of the project's
// leftmost remaining column and the surviving columns are renumbered.
// The last column of a project cannot be deleted.
func (r *ColumnRepo) Delete(ctx context.Context, id string) (*models.StatusColumn, error) {
	var deleted *models.StatusColumn
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		col, err := findColumn(ctx, tx, id)
		if err != nil {
			return err
		}

		siblings, err := listColumns(ctx, tx, col.ProjectID)
		if err != nil {
			return err
		}
		var remaining []models.StatusColumn
		for _, s := range siblings {
			if s.ID != col.ID {
				remaining = append(remaining, s)
			}
		}
		if len(remaining) == 0 {
			return errs.NewConflictError("cannot delete the last status column of a project")
		}
		fallback := remaining[0]

		// Orphans keep their relative order behind the fallback's own tasks.
		rows, err := tx.QueryContext(ctx,
			`SELECT id, status_id, sort_order FROM tasks WHERE project_id = ? AND status_id IN (?, ?)`,
			col.ProjectID, fallback.ID, col.ID)
		if err != nil {
			return fmt.Errorf("failed to query tasks: %w", err)
		}
		var entries []reorder.Entry
		for rows.Next() {
			var e reorder.Entry
			var statusID string
			if err := rows.Scan(&e.ID, &statusID, &e.Order); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan task: %w", err)
			}
			if statusID == col.ID {
				e.Rank = 1
			}
			entries = append(entries, e)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		ids := sortByRankThenOrder(entries)
		for i, taskID := range ids {
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET status_id = ?, sort_order = ? WHERE id = ?`, fallback.ID, i, taskID); err != nil {
				return fmt.Errorf("failed to reassign task: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM status_columns WHERE id = ?`, col.ID); err != nil {
			return fmt.Errorf("failed to delete status column: %w", err)
		}

		if err := densifyColumns(ctx, tx, col.ProjectID, nil); err != nil {
			return err
		}
		deleted = col
		return nil
	})
	if err != nil {
		return nil, err
	}
	return deleted, nil
}

// Reorder applies a column batch atomically and returns the project's
// renumbered columns. All entries must belong to one project.
func (r *ColumnRepo) Reorder(ctx context.Context, batch []models.ColumnOrder) (string, []models.StatusColumn, error) {
	var projectID string
	var columns []models.StatusColumn

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		ranks := make(map[string]int, len(batch))
		for i, entry := range batch {
			col, err := findColumn(ctx, tx, entry.ID)
			if err != nil {
				return err
			}
			if entry.ProjectID != "" && entry.ProjectID != col.ProjectID {
				return errs.NewInvalidFieldError("projectId", fmt.Sprintf("column %s belongs to another project", col.ID))
			}
			if projectID == "" {
				projectID = col.ProjectID
			} else if col.ProjectID != projectID {
				return errs.NewInvalidFieldError("id", "all columns in a batch must belong to one project")
			}

			if _, err := tx.ExecContext(ctx,
				`UPDATE status_columns SET sort_order = ? WHERE id = ?`, entry.Order, entry.ID); err != nil {
				return fmt.Errorf("failed to update column order: %w", err)
			}
			ranks[entry.ID] = i
		}

		if err := densifyColumns(ctx, tx, projectID, ranks); err != nil {
			return err
		}

		var err error
		columns, err = listColumns(ctx, tx, projectID)
		return err
	})
	if err != nil {
		return "", nil, err
	}
	return projectID, columns, nil
}

// densifyColumns renumbers a project's columns to 0..n-1. Columns named in
// ranks take the slot of their requested order, in batch order; the rest keep
// their relative order and fill the remaining slots.
func densifyColumns(ctx context.Context, tx *sql.Tx, projectID string, ranks map[string]int) error {
	cols, err := listColumns(ctx, tx, projectID)
	if err != nil {
		return err
	}

	var pinned, rest []reorder.Entry
	for _, c := range cols {
		if rank, ok := ranks[c.ID]; ok {
			pinned = append(pinned, reorder.Entry{ID: c.ID, Order: c.Order, Rank: rank})
		} else {
			rest = append(rest, reorder.Entry{ID: c.ID, Order: c.Order})
		}
	}

	current := make(map[string]int, len(cols))
	for _, c := range cols {
		current[c.ID] = c.Order
	}
	for i, id := range reorder.Place(pinned, rest) {
		if current[id] == i {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE status_columns SET sort_order = ? WHERE id = ?`, i, id); err != nil {
			return fmt.Errorf("failed to renumber column: %w", err)
		}
	}
	return nil
}

// sortByRankThenOrder keeps rank groups contiguous, each sorted by order.
func sortByRankThenOrder(entries []reorder.Entry) []string {
	swapped := make([]reorder.Entry, len(entries))
	for i, e := range entries {
		// Densify sorts by Order first, so rank is folded into the primary key.
		swapped[i] = reorder.Entry{ID: e.ID, Order: e.Rank, Rank: e.Order}
	}
	return reorder.Densify(swapped)
}

func insertColumn(ctx context.Context, q querier, col models.StatusColumn) error {
	if _, err := q.ExecContext(ctx,
		`INSERT INTO status_columns (id, project_id, name, color, sort_order) VALUES (?, ?, ?, ?, ?)`,
		col.ID, col.ProjectID, col.Name, col.Color, col.Order); err != nil {
		return fmt.Errorf("failed to insert status column: %w", err)
	}
	return nil
}

func findColumn(ctx context.Context, q querier, id string) (*models.StatusColumn, error) {
	var c models.StatusColumn
	err := q.QueryRowContext(ctx,
		`SELECT id, project_id, name, color, sort_order FROM status_columns WHERE id = ?`, id).
		Scan(&c.ID, &c.ProjectID, &c.Name, &c.Color, &c.Order)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("status column", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query status column: %w", err)
	}
	return &c, nil
}

func listColumns(ctx context.Context, q querier, projectID string) ([]models.StatusColumn, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, project_id, name, color, sort_order FROM status_columns
		 WHERE project_id = ? ORDER BY sort_order, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query status columns: %w", err)
	}
	defer rows.Close()

	columns := []models.StatusColumn{}
	for rows.Next() {
		var c models.StatusColumn
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Color, &c.Order); err != nil {
			return nil, fmt.Errorf("failed to scan status column: %w", err)
		}
		columns = append(columns, c)
	}
	return columns, rows.Err()
}
