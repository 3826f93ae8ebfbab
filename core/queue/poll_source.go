package queue

import (
	"context"
	"errors"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// pollSource acquires executions by popping the configured queues in order.
type pollSource struct {
	repo   QueueRepository
	queues []string
}

func (p *pollSource) targets() []string { return p.queues }

func (p *pollSource) updater() executionUpdater { return p.repo }

func (p *pollSource) close() error { return nil }

// open returns executions orphaned by a previous run of the same worker to their queues.
func (p *pollSource) open(ctx context.Context, w *Worker) error {
	for _, q := range p.queues {
		for {
			restored, err := p.repo.RestoreInflight(ctx, q, w.Name())
			if err != nil {
				return err
			}
			if !restored {
				break
			}
			w.logger.InfoContext(ctx, "restored orphaned job to queue",
				logger.Worker(w.Name()),
				logger.Queue(q))
		}
	}
	return nil
}

// acquire makes one round over all queues. It sleeps for the poll interval when no
// queue yielded an execution, then returns a nil execution.
func (p *pollSource) acquire(ctx context.Context, w *Worker) (string, *Execution, error) {
	bg := context.WithoutCancel(ctx)

	for _, q := range p.queues {
		if !w.running.Load() {
			return "", nil, nil
		}
		if w.emit(bg, Event{Type: EventPoll, Queue: q}) == Veto {
			continue
		}

		exec, err := p.repo.Pop(bg, q, w.Name())
		switch {
		case errors.Is(err, ErrExecutionNotFound), errors.Is(err, ErrUndecodableExecution):
			w.logger.WarnContext(bg, "dropping unreadable job",
				logger.Worker(w.Name()),
				logger.Queue(q),
				logger.Error(err))
			if err := p.repo.RemoveInflight(bg, q, w.Name()); err != nil {
				return "", nil, err
			}
		case err != nil:
			return "", nil, err
		case exec != nil:
			return q, exec, nil
		}
	}

	w.sleep(ctx, w.pollInterval)
	return "", nil, nil
}

func (p *pollSource) restore(ctx context.Context, w *Worker, queue string) error {
	_, err := p.repo.RestoreInflight(ctx, queue, w.Name())
	return err
}

func (p *pollSource) release(ctx context.Context, w *Worker, queue string) error {
	return p.repo.RemoveInflight(ctx, queue, w.Name())
}
