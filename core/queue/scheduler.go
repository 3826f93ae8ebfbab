package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dmitrymomot/jobqueue/core/logger"
	"github.com/dmitrymomot/jobqueue/core/lock"
)

// Locker grants the right to enqueue one run of a periodic job.
type Locker interface {
	TryLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
}

// Scheduler enqueues periodic jobs.
//
// Any number of schedulers may run the same tasks against one namespace: with a
// Locker configured, each run is enqueued by exactly one of them.
type Scheduler struct {
	repo     EnqueuerRepository
	locker   Locker
	holder   string
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger

	// State management
	cancel          context.CancelFunc
	running         atomic.Bool
	wg              sync.WaitGroup
	shutdownTimeout time.Duration

	// Observability metrics
	tasksScheduled atomic.Int64
	activeChecks   atomic.Int32
}

// SchedulerStats provides observability metrics for monitoring and debugging
type SchedulerStats struct {
	TasksScheduled int64 // Total number of jobs enqueued by this scheduler
	ActiveChecks   int32 // Number of check operations currently running
	IsRunning      bool  // Whether the scheduler is currently running
}

// scheduledTask holds configuration for a periodic job
type scheduledTask struct {
	name     string
	schedule Schedule
	job      Job
	queue    string
	priority bool
	nextRun  time.Time
}

// NewScheduler creates a new job scheduler.
func NewScheduler(repo EnqueuerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	// Default options
	options := &schedulerOptions{
		checkInterval:   time.Second,
		shutdownTimeout: 30 * time.Second,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
	}

	// Apply options
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:            repo,
		locker:          options.locker,
		holder:          lock.NewHolder(),
		tasks:           make(map[string]*scheduledTask),
		interval:        options.checkInterval,
		shutdownTimeout: options.shutdownTimeout,
		logger:          options.logger,
	}, nil
}

// AddTask registers a periodic job. The first run happens at the next schedule time.
func (s *Scheduler) AddTask(name string, schedule Schedule, payload any, opts ...SchedulerTaskOption) error {
	if name == "" {
		return ErrEmptyJobType
	}
	if schedule == nil {
		return ErrScheduleNil
	}

	taskOpts := &schedulerTaskOptions{queue: DefaultQueueName}
	for _, opt := range opts {
		opt(taskOpts)
	}

	job, err := buildJob(payload, &enqueueOptions{jobType: taskOpts.jobType})
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return ErrTaskAlreadyRegistered
	}

	s.tasks[name] = &scheduledTask{
		name:     name,
		schedule: schedule,
		job:      job,
		queue:    taskOpts.queue,
		priority: taskOpts.priority,
		nextRun:  schedule.Next(time.Now()),
	}

	s.logger.InfoContext(context.Background(), "registered periodic job",
		slog.String("task_name", name),
		logger.JobType(job.Type),
		slog.String("schedule", schedule.String()))

	return nil
}

// Start begins the scheduler's periodic checking. This is a blocking operation
// that runs until the context is cancelled. Use Run() for errgroup pattern or call this in a goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrSchedulerAlreadyStarted
	}

	taskCount := len(s.tasks)
	if taskCount == 0 {
		s.mu.Unlock()
		return ErrSchedulerNotConfigured
	}

	ctx, s.cancel = context.WithCancel(ctx)
	ticker := time.NewTicker(s.interval)
	s.mu.Unlock()

	s.running.Store(true)
	defer ticker.Stop()

	s.logger.InfoContext(ctx, "scheduler started",
		slog.Int("task_count", taskCount),
		slog.Duration("check_interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(context.Background(), "scheduler stopping")
			s.running.Store(false)
			return ctx.Err()
		case <-ticker.C:
			s.checkTasksWithWait()
		}
	}
}

// Stop gracefully shuts down the scheduler with a timeout.
// Returns an error if the shutdown timeout is exceeded.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}

	s.running.Store(false)

	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()

	ctx, ctxCancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer ctxCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.InfoContext(ctx, "scheduler stopped cleanly")
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(context.Background(), "scheduler shutdown timeout exceeded - some checks may be abandoned",
			slog.Duration("timeout", s.shutdownTimeout))
		return fmt.Errorf("shutdown timeout exceeded after %s", s.shutdownTimeout)
	}
}

// Run provides errgroup compatibility for coordinated lifecycle management.
// Returns a function that starts the scheduler, monitors context cancellation,
// and performs graceful shutdown when the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- s.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = s.Stop() // Ignore stop error in normal shutdown
			<-errCh      // Wait for Start() to exit
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// checkTasksWithWait is a wrapper around checkTasks that tracks the operation with WaitGroup
func (s *Scheduler) checkTasksWithWait() {
	// Verifying the scheduler still runs and adding to the waitgroup must be
	// atomic, otherwise Stop() might wait on an incomplete count.
	s.mu.RLock()
	if s.cancel == nil {
		s.mu.RUnlock()
		return
	}
	s.wg.Add(1)
	s.mu.RUnlock()

	defer s.wg.Done()

	s.activeChecks.Add(1)
	defer s.activeChecks.Add(-1)

	// Use context.Background() so a check in progress completes during shutdown
	s.checkTasks(context.Background(), time.Now())
}

// checkTasks enqueues every task whose next run is due.
func (s *Scheduler) checkTasks(ctx context.Context, now time.Time) {
	s.mu.RLock()
	tasks := make([]*scheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, task)
	}
	s.mu.RUnlock()

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].name < tasks[j].name })

	for _, task := range tasks {
		if err := s.scheduleTaskIfNeeded(ctx, task, now); err != nil {
			s.logger.ErrorContext(ctx, "failed to schedule periodic job",
				slog.String("task_name", task.name),
				slog.String("schedule", task.schedule.String()),
				logger.Error(err))
		}
	}
}

// scheduleTaskIfNeeded enqueues one run of the task if it is due and no other
// scheduler claimed the same run.
func (s *Scheduler) scheduleTaskIfNeeded(ctx context.Context, task *scheduledTask, now time.Time) error {
	s.mu.RLock()
	slot := task.nextRun
	s.mu.RUnlock()

	if slot.After(now) {
		return nil
	}

	// A missed run is not caught up: the next run is computed from now.
	next := task.schedule.Next(now)
	s.setNextRun(task.name, next)

	if s.locker != nil {
		ttl := max(next.Sub(slot), lock.MinTTL)
		claimed, err := s.locker.TryLock(ctx, "schedule:"+task.name+":"+strconv.FormatInt(slot.UnixMilli(), 10), s.holder, ttl)
		if err != nil {
			return fmt.Errorf("failed to claim run: %w", err)
		}
		if !claimed {
			s.logger.DebugContext(ctx, "periodic job run claimed by another scheduler",
				slog.String("task_name", task.name),
				slog.Time("scheduled_for", slot))
			return nil
		}
	}

	exec, err := s.repo.Enqueue(ctx, task.queue, task.job, task.priority)
	if err != nil {
		return fmt.Errorf("failed to enqueue periodic job: %w", err)
	}
	s.tasksScheduled.Add(1)

	s.logger.InfoContext(ctx, "enqueued periodic job",
		slog.String("task_name", task.name),
		logger.ExecutionID(exec.ID),
		slog.Time("scheduled_for", slot),
		slog.Time("next_run", next))
	return nil
}

func (s *Scheduler) setNextRun(name string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		t.nextRun = next
	}
}

// RemoveTask removes a periodic job from the scheduler.
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tasks, name)

	s.logger.InfoContext(context.Background(), "removed periodic job",
		slog.String("task_name", name))
}

// ListTasks returns all registered periodic job names, sorted.
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats returns current scheduler statistics for observability and monitoring.
// This method is thread-safe and can be called at any time.
func (s *Scheduler) Stats() SchedulerStats {
	s.mu.RLock()
	isRunning := s.cancel != nil
	s.mu.RUnlock()

	return SchedulerStats{
		TasksScheduled: s.tasksScheduled.Load(),
		ActiveChecks:   s.activeChecks.Load(),
		IsRunning:      isRunning,
	}
}

// Healthcheck validates that the scheduler is operational.
//
// The returned error can be checked using errors.Is:
//
//	if errors.Is(err, queue.ErrSchedulerNotRunning) { ... }
//	if errors.Is(err, queue.ErrNoTasksRegistered) { ... }
func (s *Scheduler) Healthcheck(ctx context.Context) error {
	if !s.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrSchedulerNotRunning)
	}

	s.mu.RLock()
	taskCount := len(s.tasks)
	s.mu.RUnlock()

	if taskCount == 0 {
		return errors.Join(ErrHealthcheckFailed, ErrNoTasksRegistered)
	}

	return nil
}
