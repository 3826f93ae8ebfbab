package queue_test

import (
	"bytes"
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/logger"
	"github.com/dmitrymomot/jobqueue/core/queue"
)

func TestJobContext_OutsideHandler(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, ok := queue.ExecutionFromContext(ctx)
	assert.False(t, ok)
	assert.Empty(t, queue.QueueFromContext(ctx))
	assert.Empty(t, queue.WorkerFromContext(ctx))
	assert.ErrorIs(t, queue.Progress(ctx, testPayload{}), queue.ErrNoExecutionInContext)
}

func TestLogJobAttrs(t *testing.T) {
	t.Parallel()

	t.Run("outside a handler", func(t *testing.T) {
		t.Parallel()

		_, ok := queue.LogJobAttrs(context.Background())
		assert.False(t, ok)
	})

	t.Run("inside a handler", func(t *testing.T) {
		t.Parallel()
		_, _, store, stats := newStores(t)

		var buf syncBuffer
		log := logger.New(
			logger.WithJSONFormatter(),
			logger.WithOutput(&buf),
			logger.WithContextExtractors(queue.LogJobAttrs),
		)

		done := make(chan struct{})
		w, err := queue.NewWorker(store, stats,
			queue.WithQueues("mail"),
			queue.WithPollInterval(10*time.Millisecond),
			queue.WithWorkerName("w-log"),
			queue.WithHandlers(queue.NewJobHandler(func(ctx context.Context, p testPayload) error {
				log.InfoContext(ctx, "handling")
				close(done)
				return nil
			})),
		)
		require.NoError(t, err)

		exec := enqueue(t, store, "mail", testPayload{Value: 1}, false)
		startWorker(t, w)

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("job not handled")
		}

		out := buf.String()
		assert.Contains(t, out, `"worker":"w-log"`)
		assert.Contains(t, out, `"queue":"mail"`)
		assert.Contains(t, out, `"execution_id":`+strconv.FormatInt(exec.ID, 10)+`}`)
	})
}

// syncBuffer is a bytes.Buffer safe for the worker goroutine to write to.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
