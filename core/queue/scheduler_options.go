package queue

import (
	"log/slog"
	"time"
)

// SchedulerOption is a functional option for configuring a scheduler
type SchedulerOption func(*schedulerOptions)

type schedulerOptions struct {
	checkInterval   time.Duration
	shutdownTimeout time.Duration
	logger          *slog.Logger
	locker          Locker
}

// WithCheckInterval configures how frequently the scheduler checks for due jobs.
// Shorter intervals provide more precise scheduling but increase load on the store.
func WithCheckInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithSchedulerShutdownTimeout configures maximum wait time for active checks during shutdown.
func WithSchedulerShutdownTimeout(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		if d > 0 {
			o.shutdownTimeout = d
		}
	}
}

// WithSchedulerLogger configures structured logging for scheduler operations.
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSchedulerLocker makes schedulers in different processes enqueue each run once.
func WithSchedulerLocker(l Locker) SchedulerOption {
	return func(o *schedulerOptions) {
		o.locker = l
	}
}

// SchedulerTaskOption is a functional option for configuring a periodic job
type SchedulerTaskOption func(*schedulerTaskOptions)

type schedulerTaskOptions struct {
	queue    string
	jobType  string
	priority bool
}

// WithTaskQueue specifies which queue the periodic job is enqueued to.
func WithTaskQueue(queue string) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

// WithTaskJobType overrides the job type derived from the payload's Go type.
func WithTaskJobType(jobType string) SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		o.jobType = jobType
	}
}

// WithTaskPriority enqueues every run at the head of the queue.
func WithTaskPriority() SchedulerTaskOption {
	return func(o *schedulerTaskOptions) {
		o.priority = true
	}
}
