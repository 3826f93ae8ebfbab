package queue

import "context"

// Storage is the complete queue store surface used by Client and Service.
// Store is the Redis implementation.
type Storage interface {
	// QueueRepository provides popping and inflight bookkeeping for workers.
	QueueRepository

	// EnqueuerRepository provides execution creation.
	EnqueuerRepository

	Namespace() string
	Dequeue(ctx context.Context, queue string, id int64) (bool, error)
	Get(ctx context.Context, id int64) (*Execution, error)
	GetQueued(ctx context.Context, queue string) ([]*Execution, error)
	GetInflight(ctx context.Context, queue string) ([]*Execution, error)
	GetAll(ctx context.Context) ([]*Execution, error)
	Queues(ctx context.Context) ([]string, error)
	CleanUp(ctx context.Context) (int, error)
	CleanUpQueue(ctx context.Context, queue string) (int, error)
}

var _ Storage = (*Store)(nil)
