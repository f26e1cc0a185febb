package remote

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/tasksync/internal/dbx"
	"github.com/dmitrijs2005/tasksync/internal/logging"
	"github.com/dmitrijs2005/tasksync/internal/remote/migrations"
	"github.com/dmitrijs2005/tasksync/internal/tasks"
	"github.com/pressly/goose/v3"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

const DefaultTimeout = 15 * time.Second

const taskColumns = `id::text, client_id, user_id, title, description, completed, created_at, updated_at`

type PostgresGateway struct {
	db      dbx.DBTX
	log     logging.Logger
	timeout time.Duration
}

var _ Gateway = (*PostgresGateway)(nil)

func NewPostgresGateway(db dbx.DBTX, log logging.Logger, timeout time.Duration) *PostgresGateway {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &PostgresGateway{
		db:      db,
		log:     logging.OrNop(log).With("module", "remote"),
		timeout: timeout,
	}
}

// Open connects to the backend through the pgx stdlib driver. The returned
// handle is lazy: no connection is made until first use.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open remote db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Migrate applies the embedded schema migrations to the remote database.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

// classify also reports an expired call deadline as unavailability, since
// drivers surface cancellation with their own error values.
func (g *PostgresGateway) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && err != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	return classify(err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (tasks.Task, error) {
	var t tasks.Task
	err := row.Scan(&t.ServerID, &t.ID, &t.UserID, &t.Title, &t.Description,
		&t.Completed, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return tasks.Task{}, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	t.SyncState = tasks.StateClean
	return t, nil
}

func (g *PostgresGateway) List(ctx context.Context, userID string) ([]tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	rows, err := g.db.QueryContext(ctx, `
SELECT `+taskColumns+`
FROM tasks
WHERE user_id = $1
ORDER BY created_at`, userID)
	if err != nil {
		g.log.Error(ctx, "failed to list tasks", "user_id", userID, "error", err)
		return nil, fmt.Errorf("list tasks: %w", g.classify(ctx, err))
	}
	defer rows.Close()

	var out []tasks.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", g.classify(ctx, err))
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", g.classify(ctx, err))
	}

	g.log.Debug(ctx, "listed tasks", "user_id", userID, "count", len(out))
	return out, nil
}

// Create inserts the task. Re-sending a task that already reached the table
// updates the existing row instead of failing.
func (g *PostgresGateway) Create(ctx context.Context, userID string, in TaskInput) (tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	row := g.db.QueryRowContext(ctx, `
INSERT INTO tasks (user_id, client_id, title, description, completed, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, client_id) DO UPDATE
SET title = excluded.title,
    description = excluded.description,
    completed = excluded.completed,
    updated_at = excluded.updated_at
RETURNING `+taskColumns,
		userID, in.ClientID, in.Title, in.Description, in.Completed, in.UpdatedAt)

	t, err := scanTask(row)
	if err != nil {
		g.log.Error(ctx, "failed to create task", "client_id", in.ClientID, "error", err)
		return tasks.Task{}, fmt.Errorf("create task %s: %w", in.ClientID, g.classify(ctx, err))
	}

	g.log.Debug(ctx, "created task", "client_id", in.ClientID, "server_id", t.ServerID)
	return t, nil
}

func (g *PostgresGateway) Update(ctx context.Context, userID, serverID string, in TaskInput) (tasks.Task, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	row := g.db.QueryRowContext(ctx, `
UPDATE tasks
SET title = $1,
    description = $2,
    completed = $3,
    updated_at = $4
WHERE id::text = $5 AND user_id = $6
RETURNING `+taskColumns,
		in.Title, in.Description, in.Completed, in.UpdatedAt, serverID, userID)

	t, err := scanTask(row)
	if err != nil {
		g.log.Error(ctx, "failed to update task", "server_id", serverID, "error", err)
		return tasks.Task{}, fmt.Errorf("update task %s: %w", serverID, g.classify(ctx, err))
	}

	g.log.Debug(ctx, "updated task", "server_id", serverID)
	return t, nil
}

func (g *PostgresGateway) Delete(ctx context.Context, userID, serverID string) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	res, err := g.db.ExecContext(ctx, `DELETE FROM tasks WHERE id::text = $1 AND user_id = $2`, serverID, userID)
	if err != nil {
		g.log.Error(ctx, "failed to delete task", "server_id", serverID, "error", err)
		return fmt.Errorf("delete task %s: %w", serverID, g.classify(ctx, err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete task %s: %w", serverID, g.classify(ctx, err))
	}
	if n == 0 {
		return fmt.Errorf("delete task %s: %w", serverID, g.classify(ctx, sql.ErrNoRows))
	}

	g.log.Debug(ctx, "deleted task", "server_id", serverID)
	return nil
}
