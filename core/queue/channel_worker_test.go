package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/queue"
)

// waitSubscribed blocks until a subscriber listens on the channel key.
func waitSubscribed(t *testing.T, client redis.UniversalClient, key string) {
	t.Helper()

	require.Eventually(t, func() bool {
		n, err := client.PubSubNumSub(context.Background(), key).Result()
		return err == nil && n[key] > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewChannelWorker(t *testing.T) {
	t.Parallel()
	_, client, _, stats := newStores(t)

	_, err := queue.NewChannelWorker(nil, testNamespace, stats, []string{"c"})
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewChannelWorker(client, testNamespace, nil, []string{"c"})
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, err = queue.NewChannelWorker(client, testNamespace, stats, nil)
	assert.ErrorIs(t, err, queue.ErrNoChannels)

	_, err = queue.NewChannelWorker(client, testNamespace, stats, []string{"c", ""})
	assert.ErrorIs(t, err, queue.ErrEmptyQueueName)

	w, err := queue.NewChannelWorker(client, testNamespace, stats, []string{"c", "d"},
		queue.WithWorkerName("cw-{queues}"))
	require.NoError(t, err)
	assert.Equal(t, "cw-c,d", w.Name())
	assert.Equal(t, []string{"c", "d"}, w.Queues())
}

func TestChannelWorker(t *testing.T) {
	t.Parallel()

	t.Run("handles published jobs", func(t *testing.T) {
		t.Parallel()
		_, rdb, _, _ := newStores(t)
		ctx := context.Background()

		client, err := queue.NewClient(rdb, testNamespace)
		require.NoError(t, err)

		received := make(chan testPayload, 1)
		var channel string
		rec := &eventRecorder{}
		worker, err := queue.NewChannelWorker(rdb, testNamespace, client.Stats(), []string{"c"},
			queue.WithHandlers(queue.NewJobHandler(func(ctx context.Context, p testPayload) error {
				channel = queue.QueueFromContext(ctx)
				if err := queue.Progress(ctx, p); err == nil {
					t.Error("progress of a channel job should fail")
				}
				received <- p
				return nil
			})),
			queue.WithListener(rec.listener()),
		)
		require.NoError(t, err)

		startWorker(t, worker)
		waitSubscribed(t, rdb, "test:channel:c")

		id, err := client.Publish(ctx, "c", testPayload{Message: "ping", Value: 7})
		require.NoError(t, err)
		assert.Zero(t, id)

		select {
		case p := <-received:
			assert.Equal(t, testPayload{Message: "ping", Value: 7}, p)
		case <-time.After(2 * time.Second):
			t.Fatal("published job was not handled")
		}

		require.Eventually(t, func() bool { return rec.has(queue.EventSuccess) }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, "c", channel)

		success, _ := rec.find(queue.EventSuccess)
		assert.Equal(t, int64(0), success.Execution.ID)
		assert.Equal(t, "c", success.Queue)
		assert.False(t, rec.has(queue.EventPoll), "channel workers do not poll")

		all, err := client.ListAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "channel jobs are not stored")
	})

	t.Run("skips undecodable messages", func(t *testing.T) {
		t.Parallel()
		_, rdb, _, stats := newStores(t)
		ctx := context.Background()

		client, err := queue.NewClient(rdb, testNamespace)
		require.NoError(t, err)

		rec := &eventRecorder{}
		worker, err := queue.NewChannelWorker(rdb, testNamespace, stats, []string{"c"},
			queue.WithHandlers(noopHandler()),
			queue.WithListener(rec.listener()),
		)
		require.NoError(t, err)

		startWorker(t, worker)
		waitSubscribed(t, rdb, "test:channel:c")

		require.NoError(t, rdb.Publish(ctx, "test:channel:c", "not json").Err())
		require.NoError(t, rdb.Publish(ctx, "test:channel:c", `{"id":0,"job":{"payload":{}}}`).Err())
		_, err = client.Publish(ctx, "c", testPayload{})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return rec.has(queue.EventSuccess) }, 2*time.Second, 5*time.Millisecond)
		assert.False(t, rec.has(queue.EventFailure))
		assert.Equal(t, queue.WorkerRunning, worker.Status())
	})

	t.Run("vetoed jobs are not restored", func(t *testing.T) {
		t.Parallel()
		_, rdb, _, stats := newStores(t)
		ctx := context.Background()

		client, err := queue.NewClient(rdb, testNamespace)
		require.NoError(t, err)

		rec := &eventRecorder{}
		worker, err := queue.NewChannelWorker(rdb, testNamespace, stats, []string{"c"},
			queue.WithHandlers(noopHandler()),
			queue.WithListener(func(context.Context, queue.Event) queue.Decision {
				return queue.Veto
			}, queue.EventProcess),
			queue.WithListener(rec.listener()),
		)
		require.NoError(t, err)

		startWorker(t, worker)
		waitSubscribed(t, rdb, "test:channel:c")

		_, err = client.Publish(ctx, "c", testPayload{})
		require.NoError(t, err)

		require.Eventually(t, func() bool { return rec.has(queue.EventSkipped) }, 2*time.Second, 5*time.Millisecond)
		time.Sleep(30 * time.Millisecond)

		skipped := 0
		for _, et := range rec.types() {
			if et == queue.EventSkipped {
				skipped++
			}
		}
		assert.Equal(t, 1, skipped)
	})

	t.Run("stops and unsubscribes", func(t *testing.T) {
		t.Parallel()
		_, rdb, _, stats := newStores(t)
		ctx := context.Background()

		worker, err := queue.NewChannelWorker(rdb, testNamespace, stats, []string{"c"},
			queue.WithWorkerName("cw"),
			queue.WithHandlers(noopHandler()),
		)
		require.NoError(t, err)

		errCh := startWorker(t, worker)
		waitSubscribed(t, rdb, "test:channel:c")

		workers, err := stats.Workers(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"cw"}, workers)

		require.NoError(t, worker.Stop())
		require.NoError(t, waitResult(t, errCh))

		require.Eventually(t, func() bool {
			n, err := rdb.PubSubNumSub(ctx, "test:channel:c").Result()
			return err == nil && n["test:channel:c"] == 0
		}, 2*time.Second, 5*time.Millisecond)
	})
}
