package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sentry/app/crawl"
	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/metrics"
)

var ErrSourceInactive = errors.New("source is inactive")

// jobEnv is shared by every job a scheduler creates.
type jobEnv struct {
	sources database.SourceRepository
	tasks   database.TaskRepository
	logs    database.LogRepository
	runner  Runner
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// CrawlJob runs one dispatched CrawlTask and closes the crawl log opened for it.
// The task's schedule has already been advanced by the time the job runs.
type CrawlJob struct {
	Job
	task   database.CrawlTask
	logID  int64
	env    *jobEnv
	result crawl.ExecutionResult
}

func newCrawlJob(task database.CrawlTask, logID int64, env *jobEnv) *CrawlJob {
	jobType := JobTypeCrawl
	if task.IsAllSources() {
		jobType = JobTypeBatchCrawl
	}

	return &CrawlJob{
		Job:   NewJob(jobType, task.Name),
		task:  task,
		logID: logID,
		env:   env,
	}
}

func (j *CrawlJob) Execute(ctx context.Context) error {
	j.env.metrics.RunStarted()
	defer j.env.metrics.RunFinished()

	j.result = j.crawl(ctx)

	// Bookkeeping must survive a timed out or cancelled run.
	j.finish(context.WithoutCancel(ctx))

	j.env.logger.Info("Task completed",
		"type", string(j.Type),
		"task", j.TaskName,
		"job_id", j.ID,
		"duration", j.GetDuration(),
		"status", string(j.result.Status()),
		"created", j.result.ItemsCreated,
		"skipped", j.result.ItemsSkipped)

	return j.result.Err
}

// Abandon records the job as failed without running it.
func (j *CrawlJob) Abandon(ctx context.Context, reason string) {
	j.result = crawl.ExecutionResult{Err: errors.New(reason)}
	j.finish(ctx)
}

func (j *CrawlJob) Result() crawl.ExecutionResult {
	return j.result
}

func (j *CrawlJob) crawl(ctx context.Context) crawl.ExecutionResult {
	if j.task.IsAllSources() {
		return j.env.runner.RunAllFeeds(ctx)
	}

	source, err := j.env.sources.GetSource(ctx, j.task.SourceID)
	if err != nil {
		return crawl.ExecutionResult{Err: fmt.Errorf("failed to load source %d: %w", j.task.SourceID, err)}
	}
	if !source.Active {
		return crawl.ExecutionResult{Err: &crawl.ConfigError{Source: source.Name, Err: ErrSourceInactive}}
	}

	return j.env.runner.Run(ctx, *source)
}

// finish closes the log with the real outcome, then moves the task to Completed or Failed.
// A log closed in the meantime means an operator cancelled the run; the status they set stays.
func (j *CrawlJob) finish(ctx context.Context) {
	logger := j.env.logger.With("task", j.TaskName, "job_id", j.ID)

	err := j.env.logs.CloseLog(ctx, j.logID, j.result.Status(), j.result.ItemsCreated, j.result.Message(), j.env.now().UTC())
	if errors.Is(err, database.ErrAlreadyClosed) {
		logger.Warn("Crawl log already closed, keeping task status", "log_id", j.logID)
		return
	}
	if err != nil {
		logger.Error("Failed to close crawl log", "log_id", j.logID, "error", err)
	}

	status := database.TaskStatusCompleted
	if j.result.Err != nil {
		status = database.TaskStatusFailed
	}

	if err := j.env.tasks.SetStatus(ctx, j.task.ID, status); err != nil {
		logger.Error("Failed to update task status", "status", string(status), "error", err)
	}
}
