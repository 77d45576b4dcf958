package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const defaultLogLimit = 50

type logRepository struct {
	db *DB
}

// NewLogRepository creates a new crawl log repository
func NewLogRepository(db *DB) LogRepository {
	return &logRepository{db: db}
}

// OpenLog creates a running log entry for a task execution attempt
func (r *logRepository) OpenLog(ctx context.Context, taskID int64, startedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO crawl_logs (task_id, started_at, status) VALUES (?, ?, ?)
	`, taskID, startedAt.UTC(), string(LogStatusRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to open crawl log: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read crawl log id: %w", err)
	}
	return id, nil
}

// CloseLog finalises an open log. A log that was already closed returns ErrAlreadyClosed.
func (r *logRepository) CloseLog(ctx context.Context, id int64, status LogStatus, itemsScraped int, errorMessage string, finishedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_logs
		SET status = ?, items_scraped = ?, error_message = ?, finished_at = ?
		WHERE id = ? AND finished_at IS NULL
	`, string(status), itemsScraped, errorMessage, finishedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to close crawl log: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to close crawl log: %w", err)
	}
	if affected == 0 {
		if _, err := r.GetLog(ctx, id); err != nil {
			return err
		}
		return ErrAlreadyClosed
	}
	return nil
}

// CloseOpenLogs closes every log still open and returns how many were closed
func (r *logRepository) CloseOpenLogs(ctx context.Context, status LogStatus, errorMessage string, finishedAt time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE crawl_logs
		SET status = ?, error_message = ?, finished_at = ?
		WHERE finished_at IS NULL
	`, string(status), errorMessage, finishedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to close open crawl logs: %w", err)
	}
	return res.RowsAffected()
}

// GetLog retrieves a log entry by its ID
func (r *logRepository) GetLog(ctx context.Context, id int64) (*CrawlLog, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, task_id, started_at, finished_at, status, items_scraped, error_message
		FROM crawl_logs WHERE id = ?
	`, id)
	entry, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get crawl log: %w", err)
	}
	return entry, nil
}

// ListLogs returns the newest log entries, for one task when taskID is positive
func (r *logRepository) ListLogs(ctx context.Context, taskID int64, limit int) ([]CrawlLog, error) {
	if limit <= 0 {
		limit = defaultLogLimit
	}

	query := `SELECT id, task_id, started_at, finished_at, status, items_scraped, error_message FROM crawl_logs`
	var args []any
	if taskID > 0 {
		query += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list crawl logs: %w", err)
	}
	defer rows.Close()

	var logs []CrawlLog
	for rows.Next() {
		entry, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan crawl log row: %w", err)
		}
		logs = append(logs, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating crawl log rows: %w", err)
	}

	return logs, nil
}

func scanLog(row rowScanner) (*CrawlLog, error) {
	var entry CrawlLog
	var status string
	var finishedAt sql.NullTime

	err := row.Scan(&entry.ID, &entry.TaskID, &entry.StartedAt, &finishedAt, &status, &entry.ItemsScraped, &entry.ErrorMessage)
	if err != nil {
		return nil, err
	}

	entry.Status = LogStatus(status)
	entry.FinishedAt = timePtr(finishedAt)
	return &entry, nil
}
