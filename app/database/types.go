package database

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrDuplicate     = errors.New("content item already exists")
	ErrAlreadyClosed = errors.New("crawl log already closed")
)

type SourceKind string

const (
	SourceKindFeed SourceKind = "feed"
	SourceKindAPI  SourceKind = "api"
)

func (k SourceKind) Valid() bool {
	return k == SourceKindFeed || k == SourceKindAPI
}

// Source is a pollable endpoint. Managed by operators, read-only to the pipeline.
type Source struct {
	ID          int64
	Name        string
	EndpointURL string
	Kind        SourceKind
	Active      bool
	CreatedAt   time.Time
}

// KeywordRule pairs a canonical term (used for tagging by containment) with an optional
// word-family pattern (used by the relevance gate). An empty pattern means the term itself,
// anchored on word boundaries.
type KeywordRule struct {
	ID        int64
	Term      string
	Pattern   string
	Language  string
	Active    bool
	CreatedAt time.Time
}

// ContentItem is created once per distinct URL and never updated afterwards.
type ContentItem struct {
	ID             int64
	SourceID       int64
	URL            string
	Title          string
	Body           string
	Excerpt        string
	Author         string
	AuthorUsername string
	LikesCount     int
	RepostsCount   int
	RepliesCount   int
	PublishedAt    time.Time
	ObservedAt     time.Time
	MatchedRuleIDs []int64
}

type ItemFilter struct {
	SourceID  int64
	KeywordID int64
	Limit     int
}

type Recurrence string

const (
	RecurrenceHourly Recurrence = "hourly"
	RecurrenceDaily  Recurrence = "daily"
	RecurrenceWeekly Recurrence = "weekly"
)

func (r Recurrence) Valid() bool {
	switch r {
	case RecurrenceHourly, RecurrenceDaily, RecurrenceWeekly:
		return true
	}
	return false
}

// Interval returns the gap between runs. Unknown values fall back to daily.
func (r Recurrence) Interval() time.Duration {
	switch r {
	case RecurrenceHourly:
		return time.Hour
	case RecurrenceWeekly:
		return 7 * 24 * time.Hour
	default:
		return 24 * time.Hour
	}
}

// Next computes the next run time relative to the moment the task was last dispatched.
func (r Recurrence) Next(from time.Time) time.Time {
	return from.Add(r.Interval())
}

type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Names that historically marked a task as the all-sources batch variant.
var allSourcesMarkers = []string{"Batch Crawl", "All News Sources"}

type CrawlTask struct {
	ID         int64
	Name       string
	SourceID   int64
	AllSources bool
	Recurrence Recurrence
	Active     bool
	LastRun    *time.Time
	NextRun    *time.Time
	Status     TaskStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsAllSources reports whether the task fans out over every active feed source
// instead of its own SourceID.
func (t CrawlTask) IsAllSources() bool {
	if t.AllSources {
		return true
	}
	for _, marker := range allSourcesMarkers {
		if strings.Contains(t.Name, marker) {
			return true
		}
	}
	return false
}

type LogStatus string

const (
	LogStatusRunning LogStatus = "running"
	LogStatusSuccess LogStatus = "success"
	LogStatusFailed  LogStatus = "failed"
	LogStatusPartial LogStatus = "partial"
)

// CrawlLog is open while FinishedAt is nil and is closed exactly once.
type CrawlLog struct {
	ID           int64
	TaskID       int64
	StartedAt    time.Time
	FinishedAt   *time.Time
	Status       LogStatus
	ItemsScraped int
	ErrorMessage string
}

type Stats struct {
	TotalItems     int
	ItemsToday     int
	ActiveSources  int
	ActiveKeywords int
	ActiveTasks    int
}
