package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/core/lock"
)

// Client is the producer-side facade: it enqueues and inspects jobs,
// publishes channel jobs and exposes the distributed lock.
type Client struct {
	rdb      redis.UniversalClient
	keys     keys
	store    *Store
	stats    *StatsStore
	locks    *lock.Store
	enqueuer *Enqueuer
}

// NewClient creates a client for the namespace.
func NewClient(rdb redis.UniversalClient, namespace string, opts ...StoreOption) (*Client, error) {
	store, err := NewStore(rdb, namespace, opts...)
	if err != nil {
		return nil, err
	}
	stats, err := NewStatsStore(rdb, namespace)
	if err != nil {
		return nil, err
	}
	locks, err := lock.NewStore(rdb, namespace)
	if err != nil {
		return nil, err
	}
	enqueuer, err := NewEnqueuer(store)
	if err != nil {
		return nil, err
	}

	return &Client{
		rdb:      rdb,
		keys:     newKeys(namespace),
		store:    store,
		stats:    stats,
		locks:    locks,
		enqueuer: enqueuer,
	}, nil
}

// Store returns the underlying queue store.
func (c *Client) Store() *Store { return c.store }

// Stats returns the worker stats store.
func (c *Client) Stats() *StatsStore { return c.stats }

// Locks returns the lock store.
func (c *Client) Locks() *lock.Store { return c.locks }

// Enqueue adds a job to a queue and returns its id.
//
//	id, err := client.Enqueue(ctx, SendEmail{To: "user@example.com"},
//		queue.WithQueue("emails"),
//		queue.WithPriority(),
//	)
func (c *Client) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (int64, error) {
	exec, err := c.enqueuer.Enqueue(ctx, payload, opts...)
	if err != nil {
		return 0, err
	}
	return exec.ID, nil
}

// Dequeue removes a waiting job. It reports whether the job was still queued.
func (c *Client) Dequeue(ctx context.Context, queue string, id int64) (bool, error) {
	return c.store.Dequeue(ctx, queue, id)
}

// Get returns a stored execution.
func (c *Client) Get(ctx context.Context, id int64) (*Execution, error) {
	return c.store.Get(ctx, id)
}

// ListQueued returns the executions waiting in the queue, head first.
func (c *Client) ListQueued(ctx context.Context, queue string) ([]*Execution, error) {
	return c.store.GetQueued(ctx, queue)
}

// ListInflight returns the executions being processed on the queue.
func (c *Client) ListInflight(ctx context.Context, queue string) ([]*Execution, error) {
	return c.store.GetInflight(ctx, queue)
}

// ListAll returns every stored execution.
func (c *Client) ListAll(ctx context.Context) ([]*Execution, error) {
	return c.store.GetAll(ctx)
}

// Publish sends a job to the channel workers subscribed to channel.
// Channel jobs are not stored, so the returned id is always 0.
// A job published while no channel worker is subscribed is lost.
func (c *Client) Publish(ctx context.Context, channel string, payload any, opts ...EnqueueOption) (int64, error) {
	if channel == "" {
		return 0, ErrEmptyQueueName
	}

	options := &enqueueOptions{}
	for _, opt := range opts {
		opt(options)
	}
	job, err := buildJob(payload, options)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(Execution{Job: job, Result: NoResult()})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal job %q: %w", job.Type, err)
	}

	if err := c.rdb.Publish(ctx, c.keys.channel(channel), data).Err(); err != nil {
		return 0, fmt.Errorf("failed to publish job %q to channel %q: %w", job.Type, channel, err)
	}
	return 0, nil
}

// TryLock acquires or renews the named lock for holder.
func (c *Client) TryLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	return c.locks.TryLock(ctx, name, holder, ttl)
}

// ReleaseLock releases the named lock if holder owns it.
func (c *Client) ReleaseLock(ctx context.Context, name, holder string) error {
	return c.locks.Release(ctx, name, holder)
}
