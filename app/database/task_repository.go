package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const taskColumns = `id, name, source_id, all_sources, recurrence, active, last_run, next_run, status, created_at, updated_at`

type taskRepository struct {
	db *DB
}

// NewTaskRepository creates a new crawl task repository
func NewTaskRepository(db *DB) TaskRepository {
	return &taskRepository{db: db}
}

// CreateTask inserts a new task definition
func (r *taskRepository) CreateTask(ctx context.Context, task CrawlTask) (int64, error) {
	if !task.Recurrence.Valid() {
		return 0, fmt.Errorf("invalid recurrence %q", task.Recurrence)
	}
	if task.Status == "" {
		task.Status = TaskStatusPending
	}

	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO crawl_tasks (name, source_id, all_sources, recurrence, active, last_run, next_run, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, task.Name, task.SourceID, task.AllSources, string(task.Recurrence), task.Active,
		nullTime(task.LastRun), nullTime(task.NextRun), string(task.Status), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to create task: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read task id: %w", err)
	}
	return id, nil
}

// GetTask retrieves a task by its ID
func (r *taskRepository) GetTask(ctx context.Context, id int64) (*CrawlTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM crawl_tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

// GetTaskByName retrieves a task by its unique name
func (r *taskRepository) GetTaskByName(ctx context.Context, name string) (*CrawlTask, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM crawl_tasks WHERE name = ?`, name)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task by name: %w", err)
	}
	return task, nil
}

// ListTasks returns every task ordered by ID
func (r *taskRepository) ListTasks(ctx context.Context) ([]CrawlTask, error) {
	return r.queryTasks(ctx, `SELECT `+taskColumns+` FROM crawl_tasks ORDER BY id`)
}

// ListDueTasks returns active tasks whose next_run is at or before now.
// Tasks without next_run are never due.
func (r *taskRepository) ListDueTasks(ctx context.Context, now time.Time) ([]CrawlTask, error) {
	return r.queryTasks(ctx, `
		SELECT `+taskColumns+`
		FROM crawl_tasks
		WHERE active = 1
		  AND next_run IS NOT NULL
		  AND next_run <= ?
		ORDER BY next_run, id
	`, now.UTC())
}

// CountActiveTasks returns the number of active tasks
func (r *taskRepository) CountActiveTasks(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawl_tasks WHERE active = 1`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

// MarkDispatched records a dispatch: last_run, the advanced next_run and the running status
func (r *taskRepository) MarkDispatched(ctx context.Context, id int64, lastRun, nextRun time.Time) error {
	return r.update(ctx, "mark task dispatched", `
		UPDATE crawl_tasks
		SET last_run = ?, next_run = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, lastRun.UTC(), nextRun.UTC(), string(TaskStatusRunning), time.Now().UTC(), id)
}

// SetStatus updates the informational status of a task
func (r *taskRepository) SetStatus(ctx context.Context, id int64, status TaskStatus) error {
	return r.update(ctx, "set task status", `
		UPDATE crawl_tasks SET status = ?, updated_at = ? WHERE id = ?
	`, string(status), time.Now().UTC(), id)
}

// SetNextRun moves the next scheduled run of a task
func (r *taskRepository) SetNextRun(ctx context.Context, id int64, nextRun time.Time) error {
	return r.update(ctx, "set task next run", `
		UPDATE crawl_tasks SET next_run = ?, updated_at = ? WHERE id = ?
	`, nextRun.UTC(), time.Now().UTC(), id)
}

// ResetTask clears last_run, sets the task back to pending and schedules it at nextRun
func (r *taskRepository) ResetTask(ctx context.Context, id int64, nextRun time.Time) error {
	return r.update(ctx, "reset task", `
		UPDATE crawl_tasks
		SET last_run = NULL, next_run = ?, status = ?, updated_at = ?
		WHERE id = ?
	`, nextRun.UTC(), string(TaskStatusPending), time.Now().UTC(), id)
}

// SetActive enables or disables a single task
func (r *taskRepository) SetActive(ctx context.Context, id int64, active bool) error {
	return r.update(ctx, "set task active", `
		UPDATE crawl_tasks SET active = ?, updated_at = ? WHERE id = ?
	`, active, time.Now().UTC(), id)
}

// SetAllActive enables or disables every task and returns how many changed
func (r *taskRepository) SetAllActive(ctx context.Context, active bool) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_tasks SET active = ?, updated_at = ? WHERE active <> ?
	`, active, time.Now().UTC(), active)
	if err != nil {
		return 0, fmt.Errorf("failed to set all tasks active: %w", err)
	}
	return res.RowsAffected()
}

// FailRunning moves every running task to failed
func (r *taskRepository) FailRunning(ctx context.Context, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_tasks SET status = ?, updated_at = ? WHERE status = ?
	`, string(TaskStatusFailed), at.UTC(), string(TaskStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to fail running tasks: %w", err)
	}
	return res.RowsAffected()
}

func (r *taskRepository) update(ctx context.Context, op, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *taskRepository) queryTasks(ctx context.Context, query string, args ...any) ([]CrawlTask, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []CrawlTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, *task)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}

	return tasks, nil
}

func scanTask(row rowScanner) (*CrawlTask, error) {
	var task CrawlTask
	var recurrence, status string
	var lastRun, nextRun sql.NullTime

	err := row.Scan(
		&task.ID, &task.Name, &task.SourceID, &task.AllSources, &recurrence, &task.Active,
		&lastRun, &nextRun, &status, &task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	task.Recurrence = Recurrence(recurrence)
	task.Status = TaskStatus(status)
	task.LastRun = timePtr(lastRun)
	task.NextRun = timePtr(nextRun)

	return &task, nil
}
