package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/homeshield/aegis/internal/core"
	"github.com/homeshield/aegis/internal/data/pgxutil"
	"github.com/homeshield/aegis/internal/domain/model"
	"github.com/homeshield/aegis/internal/domain/schedule"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

const scheduledTaskColumns = `
  id,
  user_id,
  expression,
  action,
  status,
  created_at,
  updated_at,
  next_execution_time,
  last_execution_time,
  execution_count,
  failure_count,
  last_error
`

// PostgresTaskRepo implements core.TaskRepository backed by PostgreSQL.
// Expression and action are stored as JSONB so schedule semantics stay in
// the domain layer and the schema never chases them. Timestamps are stamped
// by the domain entity, never by the repository.
type PostgresTaskRepo struct {
	DB *sql.DB
}

// NewPostgresTaskRepo creates a repository over the shared pool.
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{DB: db}
}

// Save inserts or updates a task and returns the stored snapshot.
func (r *PostgresTaskRepo) Save(ctx context.Context, task *model.ScheduledTask) (*model.ScheduledTask, error) {
	if task == nil {
		return nil, apperrors.Validation("task is required")
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}

	expression, err := json.Marshal(task.Expression)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal expression")
	}
	action, err := json.Marshal(task.Action)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "marshal action")
	}

	query := `
		INSERT INTO scheduled_tasks (
			id, user_id, expression, action, status,
			created_at, updated_at, next_execution_time, last_execution_time,
			execution_count, failure_count, last_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			expression = EXCLUDED.expression,
			action = EXCLUDED.action,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			next_execution_time = EXCLUDED.next_execution_time,
			last_execution_time = EXCLUDED.last_execution_time,
			execution_count = EXCLUDED.execution_count,
			failure_count = EXCLUDED.failure_count,
			last_error = EXCLUDED.last_error
		RETURNING ` + scheduledTaskColumns

	var stored *model.ScheduledTask
	err = pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query,
			task.ID,
			task.UserID,
			expression,
			action,
			string(task.Status),
			task.CreatedAt.UTC(),
			task.UpdatedAt.UTC(),
			nullableTime(task.NextExecutionTime),
			nullableTime(task.LastExecutionTime),
			task.ExecutionCount,
			task.FailureCount,
			nullableString(task.LastError),
		)
		if queryErr != nil {
			return queryErr
		}
		collected, collectErr := pgx.CollectOneRow(rows, rowToScheduledTask)
		if collectErr != nil {
			return collectErr
		}
		stored = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return stored, nil
}

// FindByID returns the task with the given id.
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.ScheduledTask, error) {
	query := `SELECT ` + scheduledTaskColumns + ` FROM scheduled_tasks WHERE id = $1`

	var task *model.ScheduledTask
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, id)
		if queryErr != nil {
			return queryErr
		}
		collected, collectErr := pgx.CollectOneRow(rows, rowToScheduledTask)
		if collectErr != nil {
			return collectErr
		}
		task = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return task, nil
}

// FindActive returns every ACTIVE task, soonest fire instant first.
func (r *PostgresTaskRepo) FindActive(ctx context.Context) ([]*model.ScheduledTask, error) {
	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE status = $1
		ORDER BY next_execution_time ASC NULLS LAST, id ASC
	`
	return r.collect(ctx, query, string(model.StatusActive))
}

// FindByUserID returns every task belonging to the user, oldest first.
func (r *PostgresTaskRepo) FindByUserID(ctx context.Context, userID string) ([]*model.ScheduledTask, error) {
	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE user_id = $1
		ORDER BY created_at ASC, id ASC
	`
	return r.collect(ctx, query, userID)
}

// FindByNextExecutionTimeBefore returns ACTIVE tasks due at or before the
// cutoff, soonest first.
func (r *PostgresTaskRepo) FindByNextExecutionTimeBefore(ctx context.Context, cutoff time.Time) ([]*model.ScheduledTask, error) {
	query := `
		SELECT ` + scheduledTaskColumns + `
		FROM scheduled_tasks
		WHERE status = $1
		  AND next_execution_time IS NOT NULL
		  AND next_execution_time <= $2
		ORDER BY next_execution_time ASC, id ASC
	`
	return r.collect(ctx, query, string(model.StatusActive), cutoff.UTC())
}

// Delete removes a task. Returns true if a record was removed.
func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) (bool, error) {
	var deleted bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		tag, execErr := conn.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
		if execErr != nil {
			return execErr
		}
		deleted = tag.RowsAffected() > 0
		return nil
	})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	return deleted, nil
}

// Exists reports whether a task with the given id is stored.
func (r *PostgresTaskRepo) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		return conn.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM scheduled_tasks WHERE id = $1)`, id,
		).Scan(&exists)
	})
	if err != nil {
		return false, apperrors.MapDBError(err)
	}

	return exists, nil
}

// Health checks database connectivity.
func (r *PostgresTaskRepo) Health(ctx context.Context) error {
	return r.DB.PingContext(ctx)
}

func (r *PostgresTaskRepo) collect(ctx context.Context, query string, args ...any) ([]*model.ScheduledTask, error) {
	var tasks []*model.ScheduledTask
	err := pgxutil.WithPgxConn(ctx, r.DB, func(conn *pgx.Conn) error {
		rows, queryErr := conn.Query(ctx, query, args...)
		if queryErr != nil {
			return queryErr
		}
		collected, collectErr := pgx.CollectRows(rows, rowToScheduledTask)
		if collectErr != nil {
			return collectErr
		}
		tasks = collected
		return nil
	})
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}

	return tasks, nil
}

// scheduledTaskRow matches the scheduled_tasks schema exactly, allowing
// pgx.RowToStructByName to work.
type scheduledTaskRow struct {
	ID                string         `db:"id"`
	UserID            string         `db:"user_id"`
	Expression        []byte         `db:"expression"`
	Action            []byte         `db:"action"`
	Status            string         `db:"status"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
	NextExecutionTime sql.NullTime   `db:"next_execution_time"`
	LastExecutionTime sql.NullTime   `db:"last_execution_time"`
	ExecutionCount    int            `db:"execution_count"`
	FailureCount      int            `db:"failure_count"`
	LastError         sql.NullString `db:"last_error"`
}

// toDomainTask converts a scheduledTaskRow to the domain entity.
func (row *scheduledTaskRow) toDomainTask() (*model.ScheduledTask, error) {
	var expression schedule.Expression
	if err := json.Unmarshal(row.Expression, &expression); err != nil {
		return nil, fmt.Errorf("decode expression for task %s: %w", row.ID, err)
	}

	var action model.Action
	if err := json.Unmarshal(row.Action, &action); err != nil {
		return nil, fmt.Errorf("decode action for task %s: %w", row.ID, err)
	}

	task := &model.ScheduledTask{
		ID:             row.ID,
		UserID:         row.UserID,
		Expression:     expression,
		Action:         action,
		Status:         model.Status(row.Status),
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
		ExecutionCount: row.ExecutionCount,
		FailureCount:   row.FailureCount,
	}
	if row.NextExecutionTime.Valid {
		t := row.NextExecutionTime.Time
		task.NextExecutionTime = &t
	}
	if row.LastExecutionTime.Valid {
		t := row.LastExecutionTime.Time
		task.LastExecutionTime = &t
	}
	if row.LastError.Valid {
		reason := row.LastError.String
		task.LastError = &reason
	}

	return task, nil
}

// rowToScheduledTask maps a pgx row to the domain entity using pgx v5 generics.
func rowToScheduledTask(row pgx.CollectableRow) (*model.ScheduledTask, error) {
	dbRow, err := pgx.RowToStructByName[scheduledTaskRow](row)
	if err != nil {
		return nil, fmt.Errorf("scan scheduled task row: %w", err)
	}
	return dbRow.toDomainTask()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullableString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

var _ core.TaskRepository = (*PostgresTaskRepo)(nil)
