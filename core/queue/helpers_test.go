package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/queue"
)

// Test payload types
type testPayload struct {
	Message string `json:"message"`
	Value   int    `json:"value"`
}

type otherPayload struct {
	Name string `json:"name"`
}

const testNamespace = "test"

func newRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func newStores(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient, *queue.Store, *queue.StatsStore) {
	t.Helper()

	mr, client := newRedis(t)
	store, err := queue.NewStore(client, testNamespace)
	require.NoError(t, err)
	stats, err := queue.NewStatsStore(client, testNamespace)
	require.NoError(t, err)
	return mr, client, store, stats
}

func enqueue(t *testing.T, store *queue.Store, q string, payload any, priority bool) *queue.Execution {
	t.Helper()

	job, err := queue.NewJob(payload)
	require.NoError(t, err)
	exec, err := store.Enqueue(context.Background(), q, job, priority)
	require.NoError(t, err)
	return exec
}

func ids(execs []*queue.Execution) []int64 {
	out := make([]int64, 0, len(execs))
	for _, e := range execs {
		out = append(out, e.ID)
	}
	return out
}

// eventRecorder collects event types in emission order.
type eventRecorder struct {
	mu     sync.Mutex
	events []queue.Event
}

func (r *eventRecorder) listener() queue.Listener {
	return queue.Observe(func(_ context.Context, evt queue.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, evt)
	})
}

func (r *eventRecorder) types() []queue.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *eventRecorder) has(t queue.EventType) bool {
	for _, et := range r.types() {
		if et == t {
			return true
		}
	}
	return false
}

func (r *eventRecorder) find(t queue.EventType) (queue.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Type == t {
			return e, true
		}
	}
	return queue.Event{}, false
}

// startWorker runs the worker in the background and returns a channel with its Start result.
func startWorker(t *testing.T, w *queue.Worker) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Start(context.Background()) }()
	require.Eventually(t, func() bool {
		return w.Status() == queue.WorkerRunning
	}, time.Second, time.Millisecond)

	t.Cleanup(func() { _ = w.Stop() })
	return errCh
}

func waitResult(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop in time")
		return nil
	}
}
