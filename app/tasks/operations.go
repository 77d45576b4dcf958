package tasks

import (
	"context"
	"fmt"

	"github.com/lysyi3m/rss-sentry/app/crawl"
	"github.com/lysyi3m/rss-sentry/app/database"
)

const cancelledByOperator = "cancelled by operator"

type CancelResult struct {
	Tasks int64
	Logs  int64
}

// RunNow runs a task synchronously with the same transitions as a scheduled dispatch.
// The returned error covers lookup and bookkeeping; crawl failures are in the result.
func (s *Scheduler) RunNow(ctx context.Context, taskID int64) (*crawl.ExecutionResult, error) {
	task, err := s.env.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	now := s.env.now().UTC()

	logID, err := s.env.logs.OpenLog(ctx, task.ID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to open crawl log: %w", err)
	}

	job := newCrawlJob(*task, logID, s.env)

	if err := s.env.tasks.MarkDispatched(ctx, task.ID, now, task.Recurrence.Next(now)); err != nil {
		err = fmt.Errorf("failed to advance schedule: %w", err)
		job.Abandon(ctx, err.Error())
		return nil, err
	}

	s.env.logger.Info("Manual crawl started", "task", task.Name, "job_id", job.GetID())

	job.Start()
	_ = job.Execute(ctx)

	result := job.Result()
	return &result, nil
}

func (s *Scheduler) Toggle(ctx context.Context, taskID int64) (*database.CrawlTask, error) {
	task, err := s.env.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.env.tasks.SetActive(ctx, taskID, !task.Active); err != nil {
		return nil, err
	}

	s.env.logger.Info("Crawl task toggled", "task", task.Name, "active", !task.Active)
	return s.env.tasks.GetTask(ctx, taskID)
}

// Reset returns a task to Pending, forgets its last run and schedules it one interval from now.
func (s *Scheduler) Reset(ctx context.Context, taskID int64) (*database.CrawlTask, error) {
	task, err := s.env.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.env.tasks.ResetTask(ctx, taskID, task.Recurrence.Next(s.env.now().UTC())); err != nil {
		return nil, err
	}

	s.env.logger.Info("Crawl task reset", "task", task.Name)
	return s.env.tasks.GetTask(ctx, taskID)
}

func (s *Scheduler) Reschedule(ctx context.Context, taskID int64) (*database.CrawlTask, error) {
	task, err := s.env.tasks.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}

	if err := s.env.tasks.SetNextRun(ctx, taskID, task.Recurrence.Next(s.env.now().UTC())); err != nil {
		return nil, err
	}

	s.env.logger.Info("Crawl task rescheduled", "task", task.Name)
	return s.env.tasks.GetTask(ctx, taskID)
}

// SetAllActive activates or deactivates every task and reports how many changed.
func (s *Scheduler) SetAllActive(ctx context.Context, active bool) (int64, error) {
	n, err := s.env.tasks.SetAllActive(ctx, active)
	if err != nil {
		return 0, err
	}

	s.env.logger.Info("All crawl tasks updated", "active", active, "changed", n)
	return n, nil
}

// CancelRunning marks running tasks and open logs as failed. Crawls already in
// flight are not interrupted; their results are discarded when they finish.
func (s *Scheduler) CancelRunning(ctx context.Context) (CancelResult, error) {
	now := s.env.now().UTC()

	tasks, err := s.env.tasks.FailRunning(ctx, now)
	if err != nil {
		return CancelResult{}, err
	}

	logs, err := s.env.logs.CloseOpenLogs(ctx, database.LogStatusFailed, cancelledByOperator, now)
	if err != nil {
		return CancelResult{Tasks: tasks}, err
	}

	s.env.logger.Warn("Running crawl tasks cancelled", "tasks", tasks, "logs", logs)
	return CancelResult{Tasks: tasks, Logs: logs}, nil
}
