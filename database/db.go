package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/CrowderSoup/devtrack/errs"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	password_hash TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'USER',
	avatar_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS status_columns (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	sort_order INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_status_columns_project ON status_columns(project_id, sort_order);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	status_id TEXT NOT NULL REFERENCES status_columns(id),
	title TEXT NOT NULL,
	description TEXT,
	assignee TEXT NOT NULL,
	due_date TEXT,
	priority TEXT NOT NULL,
	tags TEXT NOT NULL DEFAULT '[]',
	github_link TEXT,
	sort_order INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_column ON tasks(project_id, status_id, sort_order);
`

// InitDB opens the sqlite database at path and makes sure the schema exists.
func InitDB(path string) (*sql.DB, error) {
	dsn := path
	if strings.Contains(dsn, "?") {
		dsn += "&_foreign_keys=on&_busy_timeout=5000"
	} else {
		dsn += "?_foreign_keys=on&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows a single writer; one connection keeps reorder transactions serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Str("path", path).Msg("database initialized")
	return db, nil
}

// Database groups the repositories sharing one connection pool.
type Database struct {
	db       *sql.DB
	projects *ProjectRepo
	columns  *ColumnRepo
	tasks    *TaskRepo
	users    *UserRepo
}

func New(db *sql.DB) *Database {
	return &Database{
		db:       db,
		projects: &ProjectRepo{db: db},
		columns:  &ColumnRepo{db: db},
		tasks:    &TaskRepo{db: db},
		users:    &UserRepo{db: db},
	}
}

func (d *Database) Projects() *ProjectRepo { return d.projects }
func (d *Database) Columns() *ColumnRepo   { return d.columns }
func (d *Database) Tasks() *TaskRepo       { return d.tasks }
func (d *Database) Users() *UserRepo       { return d.users }

func (d *Database) Close() error {
	return d.db.Close()
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside a transaction. Any error from fn rolls the whole thing back.
func withTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.NewTransactionError("begin", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return errs.NewTransactionError("commit", err)
	}
	return nil
}
