package data

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/homeshield/aegis/internal/data/pgxutil"
	"github.com/homeshield/aegis/internal/domain/model"
	apperrors "github.com/homeshield/aegis/internal/errors"
)

// TaskAdminRepo provides operator queries over scheduled_tasks (filtered
// listing, retention purge). This is separate from the engine-facing
// PostgresTaskRepo so core.TaskRepository stays limited to what the
// scheduler needs.
type TaskAdminRepo struct {
	DB *sql.DB
}

// NewTaskAdminRepo creates a new TaskAdminRepo over the shared pool.
func NewTaskAdminRepo(db *sql.DB) *TaskAdminRepo {
	return &TaskAdminRepo{DB: db}
}

// TaskListFilter narrows a List call. Zero values match everything.
type TaskListFilter struct {
	Status model.Status
	UserID string
	Limit  int
}

// List returns tasks matching the filter, newest first.
func (r *TaskAdminRepo) List(ctx context.Context, filter TaskListFilter) ([]*model.ScheduledTask, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, apperrors.ValidationField("status", "invalid task status: "+string(filter.Status))
		}
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if user := strings.TrimSpace(filter.UserID); user != "" {
		args = append(args, user)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}

	query := `SELECT ` + scheduledTaskColumns + ` FROM scheduled_tasks`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

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

// PurgeFilter narrows a Purge call. Statuses defaults to the terminal set
// (COMPLETED, CANCELLED); FAILED must be named explicitly because those
// records can still be recovered through activation.
type PurgeFilter struct {
	Before   time.Time
	Statuses []model.Status
}

// Purge deletes retired tasks last touched before the cutoff and reports
// how many rows were removed. Live statuses are rejected outright so a
// purge can never take out a schedule that would still fire.
func (r *TaskAdminRepo) Purge(ctx context.Context, filter PurgeFilter) (int64, error) {
	if filter.Before.IsZero() {
		return 0, apperrors.ValidationField("before", "purge cutoff is required")
	}

	statuses := filter.Statuses
	if len(statuses) == 0 {
		statuses = []model.Status{model.StatusCompleted, model.StatusCancelled}
	}
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		if !status.Terminal() && status != model.StatusFailed {
			return 0, apperrors.ValidationField("status", "cannot purge tasks in status "+string(status))
		}
		names = append(names, string(status))
	}

	var purged int64
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			tag, execErr := tx.Exec(ctx,
				`DELETE FROM scheduled_tasks WHERE status = ANY($1) AND updated_at < $2`,
				names, filter.Before.UTC(),
			)
			if execErr != nil {
				return execErr
			}
			purged = tag.RowsAffected()
			return nil
		},
	})
	if err != nil {
		return 0, apperrors.MapDBError(err)
	}

	return purged, nil
}
