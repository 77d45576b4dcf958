package tasks

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobTypeCrawl      JobType = "crawl"
	JobTypeBatchCrawl JobType = "batch_crawl"
)

// JobInterface is a unit of work drained from the scheduler queue by a worker.
type JobInterface interface {
	Execute(ctx context.Context) error
	Abandon(ctx context.Context, reason string)
	GetID() string
	GetType() JobType
	GetTaskName() string
	Start()
	GetDuration() time.Duration
}

type Job struct {
	ID        string
	Type      JobType
	TaskName  string
	StartedAt *time.Time
}

func (j *Job) GetID() string {
	return j.ID
}

func (j *Job) GetType() JobType {
	return j.Type
}

func (j *Job) GetTaskName() string {
	return j.TaskName
}

func (j *Job) Start() {
	now := time.Now()
	j.StartedAt = &now
}

func (j *Job) GetDuration() time.Duration {
	if j.StartedAt == nil {
		return 0
	}
	return time.Since(*j.StartedAt)
}

func NewJob(jobType JobType, taskName string) Job {
	return Job{
		ID:       uuid.NewString(),
		Type:     jobType,
		TaskName: taskName,
	}
}
