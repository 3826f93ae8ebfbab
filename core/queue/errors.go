package queue

import "errors"

var (
	ErrRepositoryNil        = errors.New("repository cannot be nil")
	ErrPayloadNil           = errors.New("payload cannot be nil")
	ErrEmptyJobType         = errors.New("job type cannot be empty")
	ErrEmptyQueueName       = errors.New("queue name cannot be empty")
	ErrNoQueues             = errors.New("worker has no queues assigned")
	ErrNoHandlers           = errors.New("no job handlers registered")
	ErrHandlerNotFound      = errors.New("no handler registered for job type")
	ErrJobFailed            = errors.New("job failed")
	ErrExecutionNotFound    = errors.New("execution not found")
	ErrUndecodableExecution = errors.New("execution cannot be decoded")
	ErrNoExecutionInContext = errors.New("no execution in context")
	ErrWorkerAlreadyStarted = errors.New("worker already started")
	ErrWorkerNotRunning     = errors.New("worker is not running")
	ErrWorkerNotPausable    = errors.New("worker cannot be paused in its current state")
	ErrHealthcheckFailed    = errors.New("healthcheck failed")
	ErrNoChannels           = errors.New("channel worker has no channels")
	ErrWorkerNotFound       = errors.New("worker not found")
	ErrSubscriptionClosed   = errors.New("channel subscription closed")

	ErrScheduleNil             = errors.New("schedule cannot be nil")
	ErrTaskAlreadyRegistered   = errors.New("periodic job already registered")
	ErrSchedulerNotConfigured  = errors.New("scheduler has no periodic jobs")
	ErrSchedulerAlreadyStarted = errors.New("scheduler already started")
	ErrSchedulerNotRunning     = errors.New("scheduler is not running")
	ErrNoTasksRegistered       = errors.New("no periodic jobs registered")
)
