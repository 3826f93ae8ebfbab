package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	queues       []string
	nameTemplate string
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger
	resolver     Resolver
	handlers     []Handler
	listeners    []subscription
}

// WithQueues sets the queues polled by the worker, in polling order.
func WithQueues(queues ...string) WorkerOption {
	return func(o *workerOptions) {
		if len(queues) > 0 {
			o.queues = queues
		}
	}
}

// WithWorkerName sets the worker name or a name template.
// Placeholders {host}, {pid}, {id}, {queues} and {uuid} are resolved once when the worker starts.
func WithWorkerName(template string) WorkerOption {
	return func(o *workerOptions) {
		if template != "" {
			o.nameTemplate = template
		}
	}
}

// WithPollInterval sets how long the worker sleeps after a round over all queues found no job.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithJobTimeout bounds the handler context of every job. Zero disables the timeout.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d >= 0 {
			o.jobTimeout = d
		}
	}
}

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithResolver sets an external handler resolver, consulted after the handlers
// registered on the worker itself.
func WithResolver(r Resolver) WorkerOption {
	return func(o *workerOptions) {
		o.resolver = r
	}
}

// WithHandlers registers job handlers at construction time.
func WithHandlers(handlers ...Handler) WorkerOption {
	return func(o *workerOptions) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// WithListener subscribes a listener to the given event types, or to all events when none are given.
func WithListener(fn Listener, types ...EventType) WorkerOption {
	return func(o *workerOptions) {
		if fn != nil {
			o.listeners = append(o.listeners, subscription{types: types, fn: fn})
		}
	}
}
