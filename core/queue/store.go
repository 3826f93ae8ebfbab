package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// Every multi-key operation runs as a single Lua script so that concurrent
// workers in different processes observe it atomically. No client-side locking
// is needed around Enqueue, Pop or Dequeue.
var (
	// KEYS: id counter, known queues, executions, queue. ARGV: queue name, job, result, priority flag.
	enqueueScript = redis.NewScript(`
local id = redis.call('INCR', KEYS[1])
local sid = tostring(id)
redis.call('SADD', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], sid, '{"id":' .. sid .. ',"job":' .. ARGV[2] .. ',"result":' .. ARGV[3] .. '}')
if ARGV[4] == '1' then
	redis.call('LPUSH', KEYS[4], sid)
else
	redis.call('RPUSH', KEYS[4], sid)
end
return id
`)

	// KEYS: queue, inflight marker, executions.
	popScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return false
end
redis.call('LPUSH', KEYS[2], id)
local payload = redis.call('HGET', KEYS[3], id)
if not payload then
	return {id}
end
return {id, payload}
`)

	// KEYS: inflight marker, executions.
	// The finished execution is deleted together with its marker.
	removeInflightScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then
	return 0
end
redis.call('HDEL', KEYS[2], id)
return 1
`)

	// KEYS: queue, executions. ARGV: id.
	dequeueScript = redis.NewScript(`
local removed = redis.call('LREM', KEYS[1], 0, ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
return removed
`)

	// KEYS: executions. ARGV: id, payload.
	// A field created by this write means the execution was dequeued meanwhile; undo it.
	updateScript = redis.NewScript(`
local created = redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
if created == 1 then
	redis.call('HDEL', KEYS[1], ARGV[1])
	return 0
end
return 1
`)

	// KEYS: executions, queue keys... ARGV: id, observed payload.
	// Deletes only if the payload was not rewritten since it was scanned.
	cleanUpScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], ARGV[1]) ~= ARGV[2] then
	return 0
end
redis.call('HDEL', KEYS[1], ARGV[1])
for i = 2, #KEYS do
	redis.call('LREM', KEYS[i], 0, ARGV[1])
end
return 1
`)
)

// Store is the Redis-backed queue store.
// It holds every execution of a namespace in one hash and keeps each queue as a list of ids.
type Store struct {
	client        redis.UniversalClient
	keys          keys
	logger        *slog.Logger
	scanBatchSize int64
	badPayloads   *lru.Cache[uint64, struct{}]
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger          *slog.Logger
	scanBatchSize   int64
	decodeCacheSize int
}

// WithStoreLogger sets the logger used to report undecodable executions.
func WithStoreLogger(logger *slog.Logger) StoreOption {
	return func(o *storeOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithScanBatchSize sets the HSCAN batch size used by GetAll and CleanUp.
func WithScanBatchSize(n int64) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.scanBatchSize = n
		}
	}
}

// WithDecodeCacheSize bounds how many distinct undecodable payloads are remembered
// so that each one is logged only once.
func WithDecodeCacheSize(n int) StoreOption {
	return func(o *storeOptions) {
		if n > 0 {
			o.decodeCacheSize = n
		}
	}
}

// NewStore creates a queue store for the namespace.
func NewStore(client redis.UniversalClient, namespace string, opts ...StoreOption) (*Store, error) {
	if client == nil {
		return nil, ErrRepositoryNil
	}

	options := &storeOptions{
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
		scanBatchSize:   1000,
		decodeCacheSize: 1024,
	}
	for _, opt := range opts {
		opt(options)
	}

	cache, err := lru.New[uint64, struct{}](options.decodeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create decode failure cache: %w", err)
	}

	return &Store{
		client:        client,
		keys:          newKeys(namespace),
		logger:        options.logger,
		scanBatchSize: options.scanBatchSize,
		badPayloads:   cache,
	}, nil
}

// Namespace returns the key namespace of the store.
func (s *Store) Namespace() string {
	return s.keys.ns.Namespace()
}

// Enqueue stores the job under a fresh id and appends it to the queue.
// With priority set, the id is pushed to the head of the queue instead.
func (s *Store) Enqueue(ctx context.Context, queue string, job Job, priority bool) (*Execution, error) {
	if queue == "" {
		return nil, ErrEmptyQueueName
	}
	if job.Type == "" {
		return nil, ErrEmptyJobType
	}

	jobData, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job %q: %w", job.Type, err)
	}
	result := NoResult()
	resultData, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	flag := "0"
	if priority {
		flag = "1"
	}

	id, err := enqueueScript.Run(ctx, s.client,
		[]string{s.keys.id(), s.keys.queues(), s.keys.executions(), s.keys.queue(queue)},
		queue, string(jobData), string(resultData), flag,
	).Int64()
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue job %q in queue %q: %w", job.Type, queue, err)
	}

	return &Execution{ID: id, Job: job, Result: result}, nil
}

// Pop moves the head of the queue into the worker's inflight marker and returns it.
// It returns nil, nil when the queue is empty.
//
// When the popped id has no decodable stored execution, Pop returns ErrExecutionNotFound
// or ErrUndecodableExecution. The inflight marker still holds the id in that case
// and the caller is expected to clear it with RemoveInflight.
func (s *Store) Pop(ctx context.Context, queue, worker string) (*Execution, error) {
	reply, err := popScript.Run(ctx, s.client,
		[]string{s.keys.queue(queue), s.keys.inflight(worker, queue), s.keys.executions()},
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop from queue %q: %w", queue, err)
	}

	id := fmt.Sprint(reply[0])
	if len(reply) < 2 || reply[1] == nil {
		return nil, fmt.Errorf("%w: id %s popped from queue %q", ErrExecutionNotFound, id, queue)
	}

	raw := fmt.Sprint(reply[1])
	exec, err := decodeExecution([]byte(raw))
	if err != nil {
		s.reportUndecodable(ctx, id, raw, err)
		return nil, err
	}

	return exec, nil
}

// RemoveInflight clears the worker's inflight marker for the queue and deletes
// the execution it held. Called once processing of the execution has ended.
func (s *Store) RemoveInflight(ctx context.Context, queue, worker string) error {
	err := removeInflightScript.Run(ctx, s.client,
		[]string{s.keys.inflight(worker, queue), s.keys.executions()},
	).Err()
	if err != nil {
		return fmt.Errorf("failed to clear inflight marker of %q on queue %q: %w", worker, queue, err)
	}
	return nil
}

// RestoreInflight moves the id held in the worker's inflight marker back to the head
// of the queue. It reports whether anything was restored.
func (s *Store) RestoreInflight(ctx context.Context, queue, worker string) (bool, error) {
	err := s.client.RPopLPush(ctx, s.keys.inflight(worker, queue), s.keys.queue(queue)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to restore inflight job of %q on queue %q: %w", worker, queue, err)
	}
	return true, nil
}

// Dequeue removes every occurrence of the id from the queue and deletes the stored execution.
// It reports whether the queue contained the id.
func (s *Store) Dequeue(ctx context.Context, queue string, id int64) (bool, error) {
	removed, err := dequeueScript.Run(ctx, s.client,
		[]string{s.keys.queue(queue), s.keys.executions()},
		formatID(id),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to dequeue %d from queue %q: %w", id, queue, err)
	}
	return removed > 0, nil
}

// Update rewrites the stored execution. If the execution no longer exists
// the write is rolled back and ErrExecutionNotFound is returned.
func (s *Store) Update(ctx context.Context, exec *Execution) error {
	if exec == nil {
		return ErrPayloadNil
	}
	if exec.Result.Type == "" {
		exec.Result = NoResult()
	}

	data, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %d: %w", exec.ID, err)
	}

	updated, err := updateScript.Run(ctx, s.client,
		[]string{s.keys.executions()},
		formatID(exec.ID), string(data),
	).Int64()
	if err != nil {
		return fmt.Errorf("failed to update execution %d: %w", exec.ID, err)
	}
	if updated == 0 {
		return fmt.Errorf("%w: %d", ErrExecutionNotFound, exec.ID)
	}
	return nil
}

// Get returns the stored execution. Missing and undecodable executions
// both yield ErrExecutionNotFound.
func (s *Store) Get(ctx context.Context, id int64) (*Execution, error) {
	sid := formatID(id)
	raw, err := s.client.HGet(ctx, s.keys.executions(), sid).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %d", ErrExecutionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %d: %w", id, err)
	}

	exec, err := decodeExecution([]byte(raw))
	if err != nil {
		s.reportUndecodable(ctx, sid, raw, err)
		return nil, fmt.Errorf("%w: %d", ErrExecutionNotFound, id)
	}
	return exec, nil
}

// GetQueued returns the executions waiting in the queue, head first.
// Ids without a decodable execution are omitted.
func (s *Store) GetQueued(ctx context.Context, queue string) ([]*Execution, error) {
	ids, err := s.client.LRange(ctx, s.keys.queue(queue), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queue %q: %w", queue, err)
	}
	return s.load(ctx, ids)
}

// GetInflight returns the executions currently held by any active worker on the queue.
func (s *Store) GetInflight(ctx context.Context, queue string) ([]*Execution, error) {
	workers, err := s.client.SMembers(ctx, s.keys.workers()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	slices.Sort(workers)

	var ids []string
	for _, w := range workers {
		held, err := s.client.LRange(ctx, s.keys.inflight(w, queue), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to list inflight jobs of %q on queue %q: %w", w, queue, err)
		}
		ids = append(ids, held...)
	}
	return s.load(ctx, ids)
}

// GetAll returns every decodable stored execution ordered by id.
func (s *Store) GetAll(ctx context.Context) ([]*Execution, error) {
	var all []*Execution
	err := s.scan(ctx, func(id, raw string) error {
		exec, err := decodeExecution([]byte(raw))
		if err != nil {
			s.reportUndecodable(ctx, id, raw, err)
			return nil
		}
		all = append(all, exec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(all, func(a, b *Execution) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return all, nil
}

// Queues returns the names of all queues ever used in the namespace.
func (s *Store) Queues(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.keys.queues()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queues: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// Len returns the number of ids waiting in the queue.
func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, s.keys.queue(queue)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count queue %q: %w", queue, err)
	}
	return n, nil
}

// CleanUp deletes every stored execution whose payload cannot be decoded,
// removes its id from all known queues, and returns how many were deleted.
func (s *Store) CleanUp(ctx context.Context) (int, error) {
	queues, err := s.Queues(ctx)
	if err != nil {
		return 0, err
	}

	type entry struct{ id, raw string }
	var bad []entry
	err = s.scan(ctx, func(id, raw string) error {
		if _, err := decodeExecution([]byte(raw)); err != nil {
			bad = append(bad, entry{id: id, raw: raw})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	scriptKeys := make([]string, 0, len(queues)+1)
	scriptKeys = append(scriptKeys, s.keys.executions())
	for _, q := range queues {
		scriptKeys = append(scriptKeys, s.keys.queue(q))
	}

	deleted := 0
	for _, e := range bad {
		n, err := cleanUpScript.Run(ctx, s.client, scriptKeys, e.id, e.raw).Int64()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete undecodable execution %s: %w", e.id, err)
		}
		deleted += int(n)
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "removed undecodable executions",
			logger.Namespace(s.Namespace()),
			logger.Count("count", deleted))
	}
	return deleted, nil
}

// CleanUpQueue is CleanUp restricted to the ids waiting in one queue.
func (s *Store) CleanUpQueue(ctx context.Context, queue string) (int, error) {
	ids, err := s.client.LRange(ctx, s.keys.queue(queue), 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list queue %q: %w", queue, err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	values, err := s.client.HMGet(ctx, s.keys.executions(), ids...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to load executions of queue %q: %w", queue, err)
	}

	deleted := 0
	for i, v := range values {
		if v == nil {
			continue
		}
		raw := fmt.Sprint(v)
		if _, err := decodeExecution([]byte(raw)); err == nil {
			continue
		}
		n, err := cleanUpScript.Run(ctx, s.client,
			[]string{s.keys.executions(), s.keys.queue(queue)},
			ids[i], raw,
		).Int64()
		if err != nil {
			return deleted, fmt.Errorf("failed to delete undecodable execution %s: %w", ids[i], err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// load fetches executions for ids in order, skipping missing or undecodable ones.
func (s *Store) load(ctx context.Context, ids []string) ([]*Execution, error) {
	if len(ids) == 0 {
		return []*Execution{}, nil
	}

	values, err := s.client.HMGet(ctx, s.keys.executions(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load executions: %w", err)
	}

	result := make([]*Execution, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		raw := fmt.Sprint(v)
		exec, err := decodeExecution([]byte(raw))
		if err != nil {
			s.reportUndecodable(ctx, ids[i], raw, err)
			continue
		}
		result = append(result, exec)
	}
	return result, nil
}

// scan iterates over the executions hash in batches.
func (s *Store) scan(ctx context.Context, fn func(id, raw string) error) error {
	var cursor uint64
	for {
		fields, next, err := s.client.HScan(ctx, s.keys.executions(), cursor, "", s.scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan executions: %w", err)
		}
		for i := 0; i+1 < len(fields); i += 2 {
			if err := fn(fields[i], fields[i+1]); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// reportUndecodable logs a bad payload the first time it is seen.
func (s *Store) reportUndecodable(ctx context.Context, id, raw string, err error) {
	if seen, _ := s.badPayloads.ContainsOrAdd(xxhash.Sum64String(raw), struct{}{}); seen {
		return
	}
	s.logger.WarnContext(ctx, "undecodable execution",
		logger.Namespace(s.Namespace()),
		executionIDAttr(id),
		slog.Int("size", len(raw)),
		logger.Error(err))
}

// executionIDAttr logs a raw hash field, which may not be a valid id.
func executionIDAttr(field string) slog.Attr {
	if id, err := strconv.ParseInt(field, 10, 64); err == nil {
		return logger.ExecutionID(id)
	}
	return logger.ID("execution_field", field)
}
