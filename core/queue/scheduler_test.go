package queue_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/lock"
	"github.com/dmitrymomot/jobqueue/core/queue"
)

// MockEnqueuerRepository is a mock implementation of EnqueuerRepository
type MockEnqueuerRepository struct {
	mock.Mock
}

func (m *MockEnqueuerRepository) Enqueue(ctx context.Context, q string, job queue.Job, priority bool) (*queue.Execution, error) {
	args := m.Called(ctx, q, job, priority)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Execution), args.Error(1)
}

// runScheduler starts the scheduler in the background and stops it on cleanup.
func runScheduler(t *testing.T, s *queue.Scheduler) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx)() }()

	require.Eventually(t, func() bool { return s.Stats().IsRunning }, time.Second, time.Millisecond)
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEvery(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 5, 1, 12, 0, 30, 0, time.UTC)

	s := queue.Every(time.Minute)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 1, 0, 0, time.UTC), s.Next(base))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 2, 0, 0, time.UTC), s.Next(s.Next(base)), "next is strictly after t")
	assert.Equal(t, "every 1m0s", s.String())

	assert.Equal(t, queue.Every(time.Minute).Next(base), queue.Every(0).Next(base), "non-positive intervals fall back to a minute")
}

func TestScheduler_New(t *testing.T) {
	t.Parallel()

	_, err := queue.NewScheduler(nil)
	assert.ErrorIs(t, err, queue.ErrRepositoryNil)

	_, _, store, _ := newStores(t)
	s, err := queue.NewScheduler(store)
	require.NoError(t, err)
	assert.False(t, s.Stats().IsRunning)
	assert.Empty(t, s.ListTasks())
}

func TestScheduler_AddTask(t *testing.T) {
	t.Parallel()

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store)
		require.NoError(t, err)

		assert.ErrorIs(t, s.AddTask("", queue.Every(time.Minute), testPayload{}), queue.ErrEmptyJobType)
		assert.ErrorIs(t, s.AddTask("t", nil, testPayload{}), queue.ErrScheduleNil)
		assert.ErrorIs(t, s.AddTask("t", queue.Every(time.Minute), nil), queue.ErrPayloadNil)

		require.NoError(t, s.AddTask("t", queue.Every(time.Minute), testPayload{}))
		assert.ErrorIs(t, s.AddTask("t", queue.Every(time.Hour), testPayload{}), queue.ErrTaskAlreadyRegistered)
	})

	t.Run("list and remove", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store)
		require.NoError(t, err)

		require.NoError(t, s.AddTask("b", queue.Every(time.Minute), testPayload{}))
		require.NoError(t, s.AddTask("a", queue.Every(time.Minute), testPayload{}))
		assert.Equal(t, []string{"a", "b"}, s.ListTasks())

		s.RemoveTask("a")
		s.RemoveTask("missing")
		assert.Equal(t, []string{"b"}, s.ListTasks())
	})
}

func TestScheduler_Lifecycle(t *testing.T) {
	t.Parallel()

	t.Run("start without tasks", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store)
		require.NoError(t, err)
		assert.ErrorIs(t, s.Start(context.Background()), queue.ErrSchedulerNotConfigured)
		assert.ErrorIs(t, s.Stop(), queue.ErrSchedulerNotRunning)
	})

	t.Run("start twice", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store, queue.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("t", queue.Every(time.Hour), testPayload{}))

		runScheduler(t, s)
		assert.ErrorIs(t, s.Start(context.Background()), queue.ErrSchedulerAlreadyStarted)
	})

	t.Run("healthcheck", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store, queue.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)

		err = s.Healthcheck(context.Background())
		assert.ErrorIs(t, err, queue.ErrHealthcheckFailed)
		assert.ErrorIs(t, err, queue.ErrSchedulerNotRunning)

		require.NoError(t, s.AddTask("t", queue.Every(time.Hour), testPayload{}))
		runScheduler(t, s)
		assert.NoError(t, s.Healthcheck(context.Background()))

		s.RemoveTask("t")
		err = s.Healthcheck(context.Background())
		assert.ErrorIs(t, err, queue.ErrNoTasksRegistered)
	})

	t.Run("run returns nil on cancellation", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)

		s, err := queue.NewScheduler(store, queue.WithCheckInterval(10*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("t", queue.Every(time.Hour), testPayload{}))

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- s.Run(ctx)() }()

		require.Eventually(t, func() bool { return s.Stats().IsRunning }, time.Second, time.Millisecond)
		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("scheduler did not stop")
		}
		assert.False(t, s.Stats().IsRunning)
	})
}

func TestScheduler_Enqueue(t *testing.T) {
	t.Parallel()

	t.Run("enqueues on every run", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)
		ctx := context.Background()

		s, err := queue.NewScheduler(store, queue.WithCheckInterval(5*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("report", queue.Every(20*time.Millisecond), testPayload{Message: "tick"},
			queue.WithTaskQueue("reports"),
			queue.WithTaskJobType("report.build"),
		))

		runScheduler(t, s)
		require.Eventually(t, func() bool {
			n, err := store.Len(ctx, "reports")
			return err == nil && n >= 2
		}, 2*time.Second, 5*time.Millisecond)

		queued, err := store.GetQueued(ctx, "reports")
		require.NoError(t, err)
		for _, exec := range queued {
			assert.Equal(t, "report.build", exec.Job.Type)
			assert.JSONEq(t, `{"message":"tick","value":0}`, string(exec.Job.Payload))
		}
		assert.GreaterOrEqual(t, s.Stats().TasksScheduled, int64(2))
	})

	t.Run("priority runs go to the head of the queue", func(t *testing.T) {
		t.Parallel()
		_, _, store, _ := newStores(t)
		ctx := context.Background()

		waiting := enqueue(t, store, "q", testPayload{Value: 1}, false)

		s, err := queue.NewScheduler(store, queue.WithCheckInterval(5*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("urgent", queue.Every(20*time.Millisecond), testPayload{Value: 2},
			queue.WithTaskQueue("q"),
			queue.WithTaskPriority(),
		))

		runScheduler(t, s)
		require.Eventually(t, func() bool {
			n, err := store.Len(ctx, "q")
			return err == nil && n >= 2
		}, 2*time.Second, 5*time.Millisecond)

		queued, err := store.GetQueued(ctx, "q")
		require.NoError(t, err)
		assert.NotEqual(t, waiting.ID, queued[0].ID)
		assert.Equal(t, waiting.ID, queued[len(queued)-1].ID)
	})

	t.Run("enqueue errors do not stop the scheduler", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		repo := new(MockEnqueuerRepository)
		repo.On("Enqueue", mock.Anything, queue.DefaultQueueName, mock.Anything, false).
			Return(nil, errors.New("store unavailable")).
			Run(func(mock.Arguments) { calls.Add(1) })

		s, err := queue.NewScheduler(repo, queue.WithCheckInterval(5*time.Millisecond))
		require.NoError(t, err)
		require.NoError(t, s.AddTask("t", queue.Every(10*time.Millisecond), testPayload{}))

		runScheduler(t, s)
		require.Eventually(t, func() bool {
			return calls.Load() >= 2
		}, 2*time.Second, 5*time.Millisecond)

		assert.True(t, s.Stats().IsRunning)
		assert.Zero(t, s.Stats().TasksScheduled)
	})

	t.Run("schedulers sharing a locker enqueue each run once", func(t *testing.T) {
		t.Parallel()
		_, rdb, store, _ := newStores(t)
		ctx := context.Background()

		locks, err := lock.NewStore(rdb, testNamespace)
		require.NoError(t, err)

		schedulers := make([]*queue.Scheduler, 3)
		for i := range schedulers {
			s, err := queue.NewScheduler(store,
				queue.WithCheckInterval(5*time.Millisecond),
				queue.WithSchedulerLocker(locks),
			)
			require.NoError(t, err)
			require.NoError(t, s.AddTask("t", queue.Every(50*time.Millisecond), testPayload{}))
			schedulers[i] = s
		}

		start := time.Now()
		for _, s := range schedulers {
			runScheduler(t, s)
		}
		time.Sleep(300 * time.Millisecond)
		for _, s := range schedulers {
			require.NoError(t, s.Stop())
		}
		elapsed := time.Since(start)

		n, err := store.Len(ctx, queue.DefaultQueueName)
		require.NoError(t, err)

		var total int64
		for _, s := range schedulers {
			total += s.Stats().TasksScheduled
		}
		assert.Equal(t, n, total)

		maxRuns := int64(elapsed/(50*time.Millisecond)) + 1
		assert.GreaterOrEqual(t, n, int64(2))
		assert.LessOrEqual(t, n, maxRuns, "a run was enqueued more than once")
	})
}
