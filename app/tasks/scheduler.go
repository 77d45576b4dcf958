package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lysyi3m/rss-sentry/app/database"
	"github.com/lysyi3m/rss-sentry/app/metrics"
)

var ErrQueueFull = errors.New("task queue is full")

const (
	defaultWorkerCount  = 4
	defaultTickInterval = time.Minute
	defaultQueueSize    = 300
	defaultJobTimeout   = 30 * time.Minute
)

type Deps struct {
	Sources database.SourceRepository
	Tasks   database.TaskRepository
	Logs    database.LogRepository
	Runner  Runner
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Options struct {
	WorkerCount  int
	TickInterval time.Duration
	QueueSize    int
	JobTimeout   time.Duration
}

type Status struct {
	Running          bool
	Workers          int
	QueueDepth       int
	QueueCapacity    int
	InFlight         int64
	TickInterval     time.Duration
	LastTick         *time.Time
	Dispatched       int64
	DispatchFailures int64
}

// Scheduler selects due crawl tasks on a fixed tick and hands them to a worker pool.
// Dispatch advances the task schedule synchronously; the job itself records the outcome.
type Scheduler struct {
	env   *jobEnv
	opts  Options
	queue chan JobInterface

	mu       sync.Mutex
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
	stopping bool
	lastTick time.Time

	inFlight         atomic.Int64
	dispatched       atomic.Int64
	dispatchFailures atomic.Int64
}

func NewScheduler(deps Deps, opts Options) *Scheduler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = defaultWorkerCount
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = defaultJobTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		env: &jobEnv{
			sources: deps.Sources,
			tasks:   deps.Tasks,
			logs:    deps.Logs,
			runner:  deps.Runner,
			metrics: deps.Metrics,
			logger:  deps.Logger,
			now:     time.Now,
		},
		opts:   opts,
		queue:  make(chan JobInterface, opts.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	if s.stopping {
		s.env.logger.Warn("Scheduler is stopping, start ignored")
		return
	}
	if s.ctx.Err() != nil {
		s.ctx, s.cancel = context.WithCancel(context.Background())
	}
	ctx := s.ctx

	for i := 0; i < s.opts.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}

	logger := cronLogger{logger: s.env.logger}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	spec := "@every " + s.opts.TickInterval.String()
	if _, err := s.cron.AddFunc(spec, func() { s.tick(ctx) }); err != nil {
		s.env.logger.Error("Failed to schedule tick", "spec", spec, "error", err)
	}
	s.cron.Start()
	s.running = true

	s.env.logger.Info("Scheduler started", "workers", s.opts.WorkerCount, "tick", s.opts.TickInterval.String())
}

// Stop waits for the current tick and the in-flight jobs. Queued jobs that never
// started are recorded as failed.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.stopping = true
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	<-c.Stop().Done()
	cancel()
	s.wg.Wait()
	s.drain()

	s.mu.Lock()
	s.stopping = false
	s.mu.Unlock()

	s.env.logger.Info("Scheduler stopped")
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:          s.running,
		Workers:          s.opts.WorkerCount,
		QueueDepth:       len(s.queue),
		QueueCapacity:    cap(s.queue),
		InFlight:         s.inFlight.Load(),
		TickInterval:     s.opts.TickInterval,
		Dispatched:       s.dispatched.Load(),
		DispatchFailures: s.dispatchFailures.Load(),
	}
	if !s.lastTick.IsZero() {
		lastTick := s.lastTick
		status.LastTick = &lastTick
	}
	return status
}

func (s *Scheduler) EnqueueJob(job JobInterface) error {
	select {
	case s.queue <- job:
		s.env.metrics.SetQueueDepth(len(s.queue))
		return nil
	default:
		return ErrQueueFull
	}
}

// Dispatch selects every active task whose next run is due and hands each to the
// worker pool. A task that cannot be dispatched is marked failed; the others continue.
func (s *Scheduler) Dispatch(ctx context.Context) (int, error) {
	now := s.env.now().UTC()

	s.mu.Lock()
	s.lastTick = now
	s.mu.Unlock()

	due, err := s.env.tasks.ListDueTasks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list due tasks: %w", err)
	}

	if len(due) == 0 {
		s.env.logger.Debug("No crawl tasks due")
		return 0, nil
	}

	dispatched := 0
	for _, task := range due {
		if err := s.dispatch(ctx, task, now); err != nil {
			s.dispatchFailures.Add(1)
			s.env.metrics.Dispatch("failed")
			s.env.logger.Warn("Failed to dispatch crawl task", "task", task.Name, "error", err)
			continue
		}

		dispatched++
		s.dispatched.Add(1)
		s.env.metrics.Dispatch("queued")
		s.env.logger.Debug("Crawl task dispatched", "task", task.Name, "recurrence", string(task.Recurrence))
	}

	return dispatched, nil
}

func (s *Scheduler) tick(ctx context.Context) {
	n, err := s.Dispatch(ctx)
	if err != nil {
		s.env.logger.Error("Scheduler tick failed", "error", err)
		return
	}
	if n > 0 {
		s.env.logger.Info("Crawl tasks dispatched", "count", n)
	}
}

// dispatch opens the log and advances the schedule before the job is queued,
// so a job that finishes quickly cannot have its final status overwritten.
func (s *Scheduler) dispatch(ctx context.Context, task database.CrawlTask, now time.Time) error {
	logID, err := s.env.logs.OpenLog(ctx, task.ID, now)
	if err != nil {
		if statusErr := s.env.tasks.SetStatus(ctx, task.ID, database.TaskStatusFailed); statusErr != nil {
			s.env.logger.Error("Failed to update task status", "task", task.Name, "error", statusErr)
		}
		return fmt.Errorf("failed to open crawl log: %w", err)
	}

	job := newCrawlJob(task, logID, s.env)

	if err := s.env.tasks.MarkDispatched(ctx, task.ID, now, task.Recurrence.Next(now)); err != nil {
		err = fmt.Errorf("failed to advance schedule: %w", err)
		job.Abandon(ctx, err.Error())
		return err
	}

	if err := s.EnqueueJob(job); err != nil {
		job.Abandon(ctx, err.Error())
		return err
	}

	return nil
}

func (s *Scheduler) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			s.env.metrics.SetQueueDepth(len(s.queue))
			s.executeJob(ctx, id, job)
		}
	}
}

func (s *Scheduler) executeJob(ctx context.Context, workerID int, job JobInterface) {
	job.Start()
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	jobCtx, cancel := context.WithTimeout(ctx, s.opts.JobTimeout)
	defer cancel()

	if err := job.Execute(jobCtx); err != nil {
		s.env.logger.Error("Worker job execution failed",
			"worker_id", workerID,
			"type", string(job.GetType()),
			"task", job.GetTaskName(),
			"id", job.GetID(),
			"error", err)
	}
}

func (s *Scheduler) drain() {
	for {
		select {
		case job := <-s.queue:
			job.Abandon(context.Background(), "scheduler stopped before the crawl started")
		default:
			s.env.metrics.SetQueueDepth(0)
			return
		}
	}
}

// cronLogger routes cron's own logging into slog. Routine wake-ups go to debug.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
