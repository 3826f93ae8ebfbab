package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/queue"
)

func TestNewJob(t *testing.T) {
	t.Parallel()

	t.Run("type derived from payload", func(t *testing.T) {
		t.Parallel()

		job, err := queue.NewJob(testPayload{Message: "hi", Value: 1})
		require.NoError(t, err)
		assert.Equal(t, "queue_test.testPayload", job.Type)
		assert.JSONEq(t, `{"message":"hi","value":1}`, string(job.Payload))

		ptr, err := queue.NewJob(&testPayload{})
		require.NoError(t, err)
		assert.Equal(t, job.Type, ptr.Type, "pointer payloads share the type of their element")
	})

	t.Run("named job", func(t *testing.T) {
		t.Parallel()

		job, err := queue.NewNamedJob("email.send", map[string]string{"to": "a@b.c"})
		require.NoError(t, err)
		assert.Equal(t, "email.send", job.Type)

		_, err = queue.NewNamedJob("", testPayload{})
		assert.ErrorIs(t, err, queue.ErrEmptyJobType)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewJob(nil)
		assert.ErrorIs(t, err, queue.ErrPayloadNil)

		_, err = queue.NewJob(make(chan int))
		assert.Error(t, err)
	})

	t.Run("job passes through", func(t *testing.T) {
		t.Parallel()

		job := queue.Job{Type: "raw", Payload: json.RawMessage(`{}`)}
		got, err := queue.NewJob(job)
		require.NoError(t, err)
		assert.True(t, job.Equal(got))
	})
}

func TestResult(t *testing.T) {
	t.Parallel()

	assert.True(t, queue.NoResult().IsEmpty())
	assert.True(t, queue.Result{}.IsEmpty())

	r, err := queue.NewResult(nil)
	require.NoError(t, err)
	assert.Equal(t, queue.NoResult(), r)

	r, err = queue.NewResult(otherPayload{Name: "done"})
	require.NoError(t, err)
	assert.Equal(t, "queue_test.otherPayload", r.Type)
	assert.JSONEq(t, `{"name":"done"}`, string(r.Payload))
	assert.False(t, r.IsEmpty())
}

func TestWorkerStatus_Terminal(t *testing.T) {
	t.Parallel()

	assert.True(t, queue.WorkerStopped.Terminal())
	assert.True(t, queue.WorkerFailed.Terminal())
	assert.False(t, queue.WorkerRunning.Terminal())
	assert.False(t, queue.WorkerPaused.Terminal())
	assert.False(t, queue.WorkerStopping.Terminal())
}

func TestJobHandler(t *testing.T) {
	t.Parallel()

	t.Run("decodes the payload", func(t *testing.T) {
		t.Parallel()

		var got testPayload
		h := queue.NewJobHandler(func(ctx context.Context, p testPayload) error {
			got = p
			return nil
		})
		assert.Equal(t, "queue_test.testPayload", h.Name())

		require.NoError(t, h.Handle(context.Background(), json.RawMessage(`{"message":"m","value":3}`)))
		assert.Equal(t, testPayload{Message: "m", Value: 3}, got)
	})

	t.Run("names match the job constructors", func(t *testing.T) {
		t.Parallel()

		job, err := queue.NewJob(testPayload{})
		require.NoError(t, err)
		h := queue.NewJobHandler(func(ctx context.Context, p testPayload) error { return nil })
		assert.Equal(t, job.Type, h.Name())

		named := queue.NewNamedJobHandler("custom", func(ctx context.Context, p testPayload) error { return nil })
		assert.Equal(t, "custom", named.Name())
	})

	t.Run("invalid payload", func(t *testing.T) {
		t.Parallel()

		h := queue.NewJobHandler(func(ctx context.Context, p testPayload) error { return nil })
		assert.Error(t, h.Handle(context.Background(), json.RawMessage(`{"value":"x"}`)))
	})

	t.Run("empty payload yields the zero value", func(t *testing.T) {
		t.Parallel()

		called := false
		h := queue.NewJobHandler(func(ctx context.Context, p testPayload) error {
			called = true
			assert.Equal(t, testPayload{}, p)
			return nil
		})
		require.NoError(t, h.Handle(context.Background(), nil))
		assert.True(t, called)
	})

	t.Run("handler error is returned", func(t *testing.T) {
		t.Parallel()

		boom := errors.New("boom")
		h := queue.NewJobHandler(func(ctx context.Context, p testPayload) error { return boom })
		assert.ErrorIs(t, h.Handle(context.Background(), json.RawMessage(`{}`)), boom)
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	first := queue.NewNamedJobHandler("a", func(ctx context.Context, p testPayload) error { return nil })
	second := queue.NewNamedJobHandler("a", func(ctx context.Context, p testPayload) error { return errors.New("second") })

	r := queue.NewRegistry(first, nil)
	assert.Equal(t, 1, r.Len())

	h, ok := r.Resolve("a")
	require.True(t, ok)
	assert.Same(t, first, h)

	r.Register(second)
	assert.Equal(t, 1, r.Len())
	h, ok = r.Resolve("a")
	require.True(t, ok)
	assert.Same(t, second, h, "later registrations replace earlier ones")

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}
