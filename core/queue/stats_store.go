package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/redis/go-redis/v9"
)

// Counters holds processed and failed job totals.
type Counters struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
}

// StatsStore keeps worker registrations, persisted worker state and job counters.
// Counters are plain Redis INCRs so that every process shares one logical total.
type StatsStore struct {
	client redis.UniversalClient
	keys   keys
}

// NewStatsStore creates a worker stats store for the namespace.
func NewStatsStore(client redis.UniversalClient, namespace string) (*StatsStore, error) {
	if client == nil {
		return nil, ErrRepositoryNil
	}
	return &StatsStore{client: client, keys: newKeys(namespace)}, nil
}

// Register adds the worker to the set of active workers and stores its state.
func (s *StatsStore) Register(ctx context.Context, name string, state WorkerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state of worker %q: %w", name, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.keys.workers(), name)
		pipe.Set(ctx, s.keys.worker(name), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to register worker %q: %w", name, err)
	}
	return nil
}

// Save persists the worker state.
func (s *StatsStore) Save(ctx context.Context, name string, state WorkerState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state of worker %q: %w", name, err)
	}
	if err := s.client.Set(ctx, s.keys.worker(name), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to save state of worker %q: %w", name, err)
	}
	return nil
}

// IncrSuccess increments the global and per-worker processed counters.
func (s *StatsStore) IncrSuccess(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.keys.processed())
		pipe.Incr(ctx, s.keys.processedBy(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to count success of worker %q: %w", name, err)
	}
	return nil
}

// IncrFailure increments the global and per-worker failed counters.
func (s *StatsStore) IncrFailure(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, s.keys.failed())
		pipe.Incr(ctx, s.keys.failedBy(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to count failure of worker %q: %w", name, err)
	}
	return nil
}

// Unregister removes the worker, its state and its per-worker counters.
// Global counters are kept.
func (s *StatsStore) Unregister(ctx context.Context, name string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, s.keys.workers(), name)
		pipe.Del(ctx, s.keys.worker(name), s.keys.processedBy(name), s.keys.failedBy(name))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to unregister worker %q: %w", name, err)
	}
	return nil
}

// Workers returns the names of all registered workers.
func (s *StatsStore) Workers(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.keys.workers()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workers: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

// State returns the persisted state of a worker.
func (s *StatsStore) State(ctx context.Context, name string) (*WorkerState, error) {
	data, err := s.client.Get(ctx, s.keys.worker(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %q", ErrWorkerNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of worker %q: %w", name, err)
	}

	var state WorkerState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state of worker %q: %w", name, err)
	}
	return &state, nil
}

// Counters returns the counters of a worker, or the global counters when name is empty.
func (s *StatsStore) Counters(ctx context.Context, name string) (Counters, error) {
	processedKey, failedKey := s.keys.processed(), s.keys.failed()
	if name != "" {
		processedKey, failedKey = s.keys.processedBy(name), s.keys.failedBy(name)
	}

	values, err := s.client.MGet(ctx, processedKey, failedKey).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("failed to load counters: %w", err)
	}

	var c Counters
	if _, err := fmt.Sscan(stringOrZero(values[0]), &c.Processed); err != nil {
		return Counters{}, fmt.Errorf("failed to parse processed counter: %w", err)
	}
	if _, err := fmt.Sscan(stringOrZero(values[1]), &c.Failed); err != nil {
		return Counters{}, fmt.Errorf("failed to parse failed counter: %w", err)
	}
	return c, nil
}

func stringOrZero(v any) string {
	if v == nil {
		return "0"
	}
	return fmt.Sprint(v)
}
