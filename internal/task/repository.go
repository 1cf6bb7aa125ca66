// Package task provides the data-access layer consumed by the reminder
// pipeline: a single query returning all currently overdue, non-deleted
// tasks with the owning user's contact details.
package task

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgxpool"
)

// OverdueTask is one row of the overdue scan: the task plus the owning
// user's name and email, enough to build a reminder message.
type OverdueTask struct {
	ID       int64
	Title    string
	DueDate  time.Time
	FullName string
	Email    string
}

// OverdueReader is the narrow interface the scheduler consumes.
type OverdueReader interface {
	Overdue(ctx context.Context) ([]OverdueTask, error)
}

// Repository reads tasks from Postgres.
type Repository struct {
	db *pgxpool.Pool
	sb sq.StatementBuilderType
}

// NewRepository creates a task repository backed by the given pool.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Overdue returns every task whose due date is strictly before the current
// UTC time and which is not soft-deleted. No pagination: the result set is
// expected to fit in memory per scan cycle.
func (r *Repository) Overdue(ctx context.Context) ([]OverdueTask, error) {
	query := r.sb.
		Select(
			"t.id",
			"t.title",
			"t.due_date",
			"u.full_name",
			"u.email",
		).
		From("tasks t").
		Join("users u ON u.id = t.user_id").
		Where(sq.Lt{"t.due_date": time.Now().UTC()}).
		Where(sq.Eq{"t.deleted_at": nil}).
		OrderBy("t.due_date ASC")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build overdue tasks sql: %w", err)
	}

	rows, err := r.db.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query overdue tasks: %w", err)
	}
	defer rows.Close()

	var tasks []OverdueTask
	for rows.Next() {
		var t OverdueTask
		if err := rows.Scan(&t.ID, &t.Title, &t.DueDate, &t.FullName, &t.Email); err != nil {
			return nil, fmt.Errorf("scan overdue task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate overdue tasks: %w", err)
	}

	return tasks, nil
}
