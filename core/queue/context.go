package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

type jobContextKey struct{}

// executionUpdater persists progress snapshots.
type executionUpdater interface {
	Update(ctx context.Context, exec *Execution) error
}

type jobContext struct {
	mu      sync.Mutex
	exec    *Execution
	queue   string
	worker  string
	updater executionUpdater
}

func withJobContext(ctx context.Context, jc *jobContext) context.Context {
	return context.WithValue(ctx, jobContextKey{}, jc)
}

func jobContextFrom(ctx context.Context) (*jobContext, bool) {
	jc, ok := ctx.Value(jobContextKey{}).(*jobContext)
	return jc, ok && jc != nil
}

// ExecutionFromContext returns a copy of the execution being handled.
func ExecutionFromContext(ctx context.Context) (Execution, bool) {
	jc, ok := jobContextFrom(ctx)
	if !ok {
		return Execution{}, false
	}
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return *jc.exec, true
}

// QueueFromContext returns the queue (or channel) the handled execution came from.
func QueueFromContext(ctx context.Context) string {
	if jc, ok := jobContextFrom(ctx); ok {
		return jc.queue
	}
	return ""
}

// WorkerFromContext returns the name of the worker handling the execution.
func WorkerFromContext(ctx context.Context) string {
	if jc, ok := jobContextFrom(ctx); ok {
		return jc.worker
	}
	return ""
}

// Progress records a snapshot of a long-running job by storing v as the execution result.
// It returns ErrExecutionNotFound when the execution has been dequeued in the meantime
// and for channel-delivered jobs, which are never stored.
func Progress(ctx context.Context, v any) error {
	jc, ok := jobContextFrom(ctx)
	if !ok {
		return ErrNoExecutionInContext
	}

	result, err := NewResult(v)
	if err != nil {
		return err
	}

	jc.mu.Lock()
	jc.exec.Result = result
	snapshot := *jc.exec
	jc.mu.Unlock()

	if jc.updater == nil {
		return fmt.Errorf("%w: execution %d is not stored", ErrExecutionNotFound, snapshot.ID)
	}
	return jc.updater.Update(ctx, &snapshot)
}

// LogJobAttrs is a logger.ContextExtractor that adds a "job" group with the
// worker, queue and execution id to records logged from inside a handler.
func LogJobAttrs(ctx context.Context) (slog.Attr, bool) {
	jc, ok := jobContextFrom(ctx)
	if !ok {
		return slog.Attr{}, false
	}
	jc.mu.Lock()
	id := jc.exec.ID
	jc.mu.Unlock()

	return logger.Group("job",
		logger.Worker(jc.worker),
		logger.Queue(jc.queue),
		logger.ExecutionID(id),
	), true
}

var _ logger.ContextExtractor = LogJobAttrs
