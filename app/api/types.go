package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/feed"
	"github.com/lysyi3m/rss-sentry/app/tasks"
)

type GeneratorInterface interface {
	Run(channel feed.Channel, items []database.ContentItem) string
}

var _ GeneratorInterface = (*feed.Generator)(nil)

// HealthChecker reports the state of an optional backing service.
type HealthChecker interface {
	Health(ctx context.Context) map[string]any
}

type Deps struct {
	Sources    database.SourceRepository
	Keywords   database.KeywordRepository
	Items      database.ItemRepository
	Tasks      database.TaskRepository
	Logs       database.LogRepository
	Operator   tasks.Operator
	Controller tasks.Controller
	Cache      HealthChecker
	Logger     *slog.Logger
	Version    string
}

type Handler struct {
	sources    database.SourceRepository
	keywords   database.KeywordRepository
	items      database.ItemRepository
	tasks      database.TaskRepository
	logs       database.LogRepository
	operator   tasks.Operator
	controller tasks.Controller
	cache      HealthChecker
	generator  GeneratorInterface
	logger     *slog.Logger
	version    string
	now        func() time.Time
}

type itemResponse struct {
	ID             int64     `json:"id"`
	SourceID       int64     `json:"source_id"`
	URL            string    `json:"url"`
	Title          string    `json:"title"`
	Excerpt        string    `json:"excerpt"`
	Body           string    `json:"body,omitempty"`
	Author         string    `json:"author,omitempty"`
	AuthorUsername string    `json:"author_username,omitempty"`
	Likes          int       `json:"likes_count"`
	Reposts        int       `json:"reposts_count"`
	Replies        int       `json:"replies_count"`
	PublishedAt    time.Time `json:"published_at"`
	ObservedAt     time.Time `json:"observed_at"`
	KeywordIDs     []int64   `json:"keyword_ids"`
}

type sourceResponse struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	EndpointURL string    `json:"endpoint_url"`
	Kind        string    `json:"kind"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

type keywordResponse struct {
	ID       int64  `json:"id"`
	Term     string `json:"term"`
	Pattern  string `json:"pattern,omitempty"`
	Language string `json:"language,omitempty"`
	Active   bool   `json:"active"`
}

type taskResponse struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	SourceID   int64      `json:"source_id"`
	AllSources bool       `json:"all_sources"`
	Recurrence string     `json:"recurrence"`
	Active     bool       `json:"active"`
	Status     string     `json:"status"`
	LastRun    *time.Time `json:"last_run"`
	NextRun    *time.Time `json:"next_run"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type logResponse struct {
	ID           int64      `json:"id"`
	TaskID       int64      `json:"task_id"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at"`
	Status       string     `json:"status"`
	ItemsScraped int        `json:"items_scraped"`
	ErrorMessage string     `json:"error_message,omitempty"`
}

type runResponse struct {
	TaskID       int64  `json:"task_id"`
	Status       string `json:"status"`
	ItemsCreated int    `json:"items_created"`
	ItemsSkipped int    `json:"items_skipped"`
	ItemsFailed  int    `json:"items_failed"`
	Error        string `json:"error,omitempty"`
}

type schedulerResponse struct {
	Running          bool       `json:"running"`
	Workers          int        `json:"workers"`
	QueueDepth       int        `json:"queue_depth"`
	QueueCapacity    int        `json:"queue_capacity"`
	InFlight         int64      `json:"in_flight"`
	TickInterval     string     `json:"tick_interval"`
	LastTick         *time.Time `json:"last_tick"`
	Dispatched       int64      `json:"dispatched"`
	DispatchFailures int64      `json:"dispatch_failures"`
}

func newItemResponse(item database.ContentItem, withBody bool) itemResponse {
	resp := itemResponse{
		ID:             item.ID,
		SourceID:       item.SourceID,
		URL:            item.URL,
		Title:          item.Title,
		Excerpt:        item.Excerpt,
		Author:         item.Author,
		AuthorUsername: item.AuthorUsername,
		Likes:          item.LikesCount,
		Reposts:        item.RepostsCount,
		Replies:        item.RepliesCount,
		PublishedAt:    item.PublishedAt,
		ObservedAt:     item.ObservedAt,
		KeywordIDs:     item.MatchedRuleIDs,
	}
	if resp.KeywordIDs == nil {
		resp.KeywordIDs = []int64{}
	}
	if withBody {
		resp.Body = item.Body
	}
	return resp
}

func newTaskResponse(task database.CrawlTask) taskResponse {
	return taskResponse{
		ID:         task.ID,
		Name:       task.Name,
		SourceID:   task.SourceID,
		AllSources: task.IsAllSources(),
		Recurrence: string(task.Recurrence),
		Active:     task.Active,
		Status:     string(task.Status),
		LastRun:    task.LastRun,
		NextRun:    task.NextRun,
		UpdatedAt:  task.UpdatedAt,
	}
}

func newLogResponse(log database.CrawlLog) logResponse {
	return logResponse{
		ID:           log.ID,
		TaskID:       log.TaskID,
		StartedAt:    log.StartedAt,
		FinishedAt:   log.FinishedAt,
		Status:       string(log.Status),
		ItemsScraped: log.ItemsScraped,
		ErrorMessage: log.ErrorMessage,
	}
}

func newSchedulerResponse(status tasks.Status) schedulerResponse {
	return schedulerResponse{
		Running:          status.Running,
		Workers:          status.Workers,
		QueueDepth:       status.QueueDepth,
		QueueCapacity:    status.QueueCapacity,
		InFlight:         status.InFlight,
		TickInterval:     status.TickInterval.String(),
		LastTick:         status.LastTick,
		Dispatched:       status.Dispatched,
		DispatchFailures: status.DispatchFailures,
	}
}
