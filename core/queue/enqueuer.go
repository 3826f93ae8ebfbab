package queue

import (
	"context"
	"fmt"
)

// EnqueuerRepository defines the interface for storing new executions.
type EnqueuerRepository interface {
	Enqueue(ctx context.Context, queue string, job Job, priority bool) (*Execution, error)
}

// Enqueuer builds jobs from payloads and enqueues them with configurable defaults.
type Enqueuer struct {
	repo         EnqueuerRepository
	defaultQueue string
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

type enqueuerOptions struct {
	defaultQueue string
}

// WithDefaultQueue sets the queue used when Enqueue is called without WithQueue.
func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

// EnqueueOption configures a single Enqueue or Publish call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	queue    string
	jobType  string
	priority bool
}

// WithQueue sets the target queue.
func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.queue = queue
	}
}

// WithJobType overrides the job type derived from the payload's Go type.
func WithJobType(jobType string) EnqueueOption {
	return func(o *enqueueOptions) {
		o.jobType = jobType
	}
}

// WithPriority pushes the job to the head of the queue.
func WithPriority() EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = true
	}
}

// NewEnqueuer creates a new Enqueuer with the given repository and options.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{defaultQueue: DefaultQueueName}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{repo: repo, defaultQueue: options.defaultQueue}, nil
}

// Enqueue stores the payload as a new execution and returns it with its assigned id.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Execution, error) {
	options := &enqueueOptions{queue: e.defaultQueue}
	for _, opt := range opts {
		opt(options)
	}
	if options.queue == "" {
		return nil, ErrEmptyQueueName
	}

	job, err := buildJob(payload, options)
	if err != nil {
		return nil, err
	}

	exec, err := e.repo.Enqueue(ctx, options.queue, job, options.priority)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %q in queue %q: %w", job.Type, options.queue, err)
	}
	return exec, nil
}

// buildJob constructs a Job from payload and options.
func buildJob(payload any, options *enqueueOptions) (Job, error) {
	if payload == nil {
		return Job{}, ErrPayloadNil
	}
	if options.jobType != "" {
		return NewNamedJob(options.jobType, payload)
	}
	return NewJob(payload)
}
