package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/CrowderSoup/devtrack/errs"
	"github.com/CrowderSoup/devtrack/models"
	"github.com/google/uuid"
)

// DefaultColumns are created for every new project, left to right.
var DefaultColumns = []models.StatusColumn{
	{Name: "To Do", Color: "bg-slate-100"},
	{Name: "In Progress", Color: "bg-blue-100"},
	{Name: "Done", Color: "bg-green-100"},
}

type ProjectRepo struct {
	db *sql.DB
}

// FindAll returns every project, newest first.
func (r *ProjectRepo) FindAll(ctx context.Context) ([]models.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, description, created_at FROM projects ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	projects := []models.Project{}
	for rows.Next() {
		var p models.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

func (r *ProjectRepo) FindByID(ctx context.Context, id string) (*models.Project, error) {
	return findProject(ctx, r.db, id)
}

// Create inserts a project together with its default columns.
func (r *ProjectRepo) Create(ctx context.Context, name, description string) (*models.Project, []models.StatusColumn, error) {
	project := models.Project{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}

	var columns []models.StatusColumn
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			project.ID, project.Name, project.Description, project.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert project: %w", err)
		}

		for i, def := range DefaultColumns {
			col := models.StatusColumn{
				ID:        uuid.NewString(),
				ProjectID: project.ID,
				Name:      def.Name,
				Color:     def.Color,
				Order:     i,
			}
			if err := insertColumn(ctx, tx, col); err != nil {
				return err
			}
			columns = append(columns, col)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &project, columns, nil
}

// Update applies the non-nil fields to the project.
func (r *ProjectRepo) Update(ctx context.Context, id string, name, description *string) (*models.Project, error) {
	project, err := findProject(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	if name != nil {
		project.Name = *name
	}
	if description != nil {
		project.Description = *description
	}

	if _, err := r.db.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ? WHERE id = ?`,
		project.Name, project.Description, project.ID); err != nil {
		return nil, fmt.Errorf("failed to update project: %w", err)
	}
	return project, nil
}

// Delete removes a project with its tasks and columns in one transaction.
// It reports false when the project was already gone.
func (r *ProjectRepo) Delete(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := findProject(ctx, tx, id); err != nil {
			if errs.IsNotFound(err) {
				return nil
			}
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete tasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM status_columns WHERE project_id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete status columns: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id); err != nil {
			return fmt.Errorf("failed to delete project: %w", err)
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// Board returns the project's columns and tasks, each sorted by order.
func (r *ProjectRepo) Board(ctx context.Context, id string) (*models.Board, error) {
	if _, err := findProject(ctx, r.db, id); err != nil {
		return nil, err
	}

	statuses, err := listColumns(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	tasks, err := listTasks(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return &models.Board{Statuses: statuses, Tasks: tasks}, nil
}

func findProject(ctx context.Context, q querier, id string) (*models.Project, error) {
	var p models.Project
	err := q.QueryRowContext(ctx,
		`SELECT id, name, description, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NewNotFound("project", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query project: %w", err)
	}
	return &p, nil
}
