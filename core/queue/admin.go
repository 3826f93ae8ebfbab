package queue

import (
	"context"
	"errors"
	"slices"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// DefaultAdminChannel is the channel the service listens on for admin commands.
const DefaultAdminChannel = "admin"

// Admin commands are ordinary jobs delivered to channel workers.
// An empty Namespace matches every namespace; an empty Queue matches every queue.
type (
	// PauseWorkers pauses the poll workers of a namespace, optionally only those reading Queue.
	PauseWorkers struct {
		Namespace string `json:"namespace,omitempty"`
		Queue     string `json:"queue,omitempty"`
	}

	// UnpauseWorkers resumes paused poll workers.
	UnpauseWorkers struct {
		Namespace string `json:"namespace,omitempty"`
		Queue     string `json:"queue,omitempty"`
	}

	// StopJob cancels the execution with the given id wherever it is running.
	StopJob struct {
		Namespace string `json:"namespace,omitempty"`
		ID        int64  `json:"id"`
	}

	// ShutdownWorkers stops every worker of a namespace, the channel worker included.
	ShutdownWorkers struct {
		Namespace string `json:"namespace,omitempty"`
	}

	// CleanUpQueues deletes undecodable executions, optionally only those waiting in Queue.
	CleanUpQueues struct {
		Namespace string `json:"namespace,omitempty"`
		Queue     string `json:"queue,omitempty"`
	}
)

// adminHandlers returns the handlers of every admin command, acting on the service.
func adminHandlers(s *Service) []Handler {
	return []Handler{
		NewJobHandler(func(ctx context.Context, cmd PauseWorkers) error {
			if !s.matches(cmd.Namespace) {
				return nil
			}
			return s.eachPollWorker(cmd.Queue, func(w *Worker) error {
				return ignoreNotPausable(w.Pause(ctx))
			})
		}),
		NewJobHandler(func(ctx context.Context, cmd UnpauseWorkers) error {
			if !s.matches(cmd.Namespace) {
				return nil
			}
			return s.eachPollWorker(cmd.Queue, func(w *Worker) error {
				return ignoreNotPausable(w.Unpause(ctx))
			})
		}),
		NewJobHandler(func(ctx context.Context, cmd StopJob) error {
			if !s.matches(cmd.Namespace) {
				return nil
			}
			for _, w := range s.workers {
				if w.StopJob(cmd.ID) {
					s.logger.InfoContext(ctx, "stopped job on admin request",
						logger.Action("stop-job"),
						logger.Worker(w.Name()),
						logger.ExecutionID(cmd.ID))
				}
			}
			return nil
		}),
		NewJobHandler(func(ctx context.Context, cmd ShutdownWorkers) error {
			if !s.matches(cmd.Namespace) {
				return nil
			}
			s.logger.InfoContext(ctx, "shutting down workers on admin request",
				logger.Action("shutdown"),
				logger.Namespace(s.Namespace()))
			return s.Stop()
		}),
		NewJobHandler(func(ctx context.Context, cmd CleanUpQueues) error {
			if !s.matches(cmd.Namespace) {
				return nil
			}

			var (
				n   int
				err error
			)
			if cmd.Queue == "" {
				n, err = s.store.CleanUp(ctx)
			} else {
				n, err = s.store.CleanUpQueue(ctx, cmd.Queue)
			}
			if err != nil {
				return err
			}

			s.logger.InfoContext(ctx, "cleaned up undecodable executions",
				logger.Action("cleanup"),
				logger.Namespace(s.Namespace()),
				logger.Queue(cmd.Queue),
				logger.Count("count", n))
			return nil
		}),
	}
}

func (s *Service) matches(namespace string) bool {
	return namespace == "" || namespace == s.Namespace()
}

// eachPollWorker applies fn to the poll workers reading queue, or to all of them when queue is empty.
func (s *Service) eachPollWorker(queue string, fn func(*Worker) error) error {
	var errs []error
	for _, w := range s.workers {
		if queue != "" && !slices.Contains(w.Queues(), queue) {
			continue
		}
		if err := fn(w); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func ignoreNotPausable(err error) error {
	if errors.Is(err, ErrWorkerNotPausable) {
		return nil
	}
	return err
}
