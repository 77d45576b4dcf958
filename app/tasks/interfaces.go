package tasks

import (
	"context"

	"github.com/lysyi3m/rss-sentry/app/crawl"
	"github.com/lysyi3m/rss-sentry/app/database"
)

// Runner executes crawls. Implemented by crawl.Executor.
type Runner interface {
	Run(ctx context.Context, source database.Source) crawl.ExecutionResult
	RunAllFeeds(ctx context.Context) crawl.ExecutionResult
}

// Controller is the start/stop/status surface exposed to operational tooling.
//
//	scheduler := NewScheduler(deps, opts)
//	scheduler.Start()
//	defer scheduler.Stop()
type Controller interface {
	Start()
	Stop()
	Status() Status
}

// Operator is the task management surface used by the HTTP API.
type Operator interface {
	RunNow(ctx context.Context, taskID int64) (*crawl.ExecutionResult, error)
	Toggle(ctx context.Context, taskID int64) (*database.CrawlTask, error)
	Reset(ctx context.Context, taskID int64) (*database.CrawlTask, error)
	Reschedule(ctx context.Context, taskID int64) (*database.CrawlTask, error)
	SetAllActive(ctx context.Context, active bool) (int64, error)
	CancelRunning(ctx context.Context) (CancelResult, error)
}

var (
	_ Controller = (*Scheduler)(nil)
	_ Operator   = (*Scheduler)(nil)
	_ Runner     = (*crawl.Executor)(nil)
)
