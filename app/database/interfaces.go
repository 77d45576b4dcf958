package database

import (
	"context"
	"time"
)

type SourceRepository interface {
	GetSource(ctx context.Context, id int64) (*Source, error)
	GetSourceByName(ctx context.Context, name string) (*Source, error)
	ListSources(ctx context.Context) ([]Source, error)
	ListActiveSources(ctx context.Context, kind SourceKind) ([]Source, error)
	CountActiveSources(ctx context.Context) (int, error)

	UpsertSource(ctx context.Context, source Source) (int64, error)
}

type KeywordRepository interface {
	ListKeywords(ctx context.Context) ([]KeywordRule, error)
	ListActiveKeywords(ctx context.Context) ([]KeywordRule, error)
	CountActiveKeywords(ctx context.Context) (int, error)

	UpsertKeyword(ctx context.Context, rule KeywordRule) (int64, error)
}

// ItemRepository is the content store. Exists and CreateItem together form the
// deduplication boundary; CreateItem reports ErrDuplicate when it loses a race.
type ItemRepository interface {
	Exists(ctx context.Context, url string) (bool, error)
	CreateItem(ctx context.Context, item ContentItem) (*ContentItem, error)

	GetItem(ctx context.Context, id int64) (*ContentItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]ContentItem, error)
	CountItems(ctx context.Context) (int, error)
	CountItemsSince(ctx context.Context, since time.Time) (int, error)
}

type TaskRepository interface {
	GetTask(ctx context.Context, id int64) (*CrawlTask, error)
	GetTaskByName(ctx context.Context, name string) (*CrawlTask, error)
	ListTasks(ctx context.Context) ([]CrawlTask, error)
	ListDueTasks(ctx context.Context, now time.Time) ([]CrawlTask, error)
	CountActiveTasks(ctx context.Context) (int, error)

	CreateTask(ctx context.Context, task CrawlTask) (int64, error)
	MarkDispatched(ctx context.Context, id int64, lastRun, nextRun time.Time) error
	SetStatus(ctx context.Context, id int64, status TaskStatus) error
	SetNextRun(ctx context.Context, id int64, nextRun time.Time) error
	ResetTask(ctx context.Context, id int64, nextRun time.Time) error
	SetActive(ctx context.Context, id int64, active bool) error
	SetAllActive(ctx context.Context, active bool) (int64, error)
	FailRunning(ctx context.Context, at time.Time) (int64, error)
}

type LogRepository interface {
	OpenLog(ctx context.Context, taskID int64, startedAt time.Time) (int64, error)
	CloseLog(ctx context.Context, id int64, status LogStatus, itemsScraped int, errorMessage string, finishedAt time.Time) error
	CloseOpenLogs(ctx context.Context, status LogStatus, errorMessage string, finishedAt time.Time) (int64, error)

	GetLog(ctx context.Context, id int64) (*CrawlLog, error)
	ListLogs(ctx context.Context, taskID int64, limit int) ([]CrawlLog, error)
}
