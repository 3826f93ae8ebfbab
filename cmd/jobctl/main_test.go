package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobqueue/core/queue"
)

func newTestClient(t *testing.T) *queue.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	client, err := queue.NewClient(rdb, "ctl")
	require.NoError(t, err)
	return client
}

func TestRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exec := func(t *testing.T, client *queue.Client, args ...string) (string, error) {
		t.Helper()
		var out bytes.Buffer
		err := run(ctx, client, args, &out)
		return out.String(), err
	}

	t.Run("enqueue list get dequeue", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		out, err := exec(t, client, "enqueue", "-type", "echo", "-queue", "mail", `{"message":"hi"}`)
		require.NoError(t, err)
		assert.Equal(t, "1\n", out)

		_, err = exec(t, client, "enqueue", "-type", "echo", "-queue", "mail", "-priority", `{"message":"first"}`)
		require.NoError(t, err)

		out, err = exec(t, client, "list", "-queue", "mail")
		require.NoError(t, err)
		assert.Contains(t, out, "ID")
		assert.Less(t, bytes.Index([]byte(out), []byte("first")), bytes.Index([]byte(out), []byte(`"hi"`)),
			"priority jobs are listed first")

		out, err = exec(t, client, "get", "1")
		require.NoError(t, err)
		assert.Contains(t, out, `"type": "echo"`)

		out, err = exec(t, client, "dequeue", "-queue", "mail", "1")
		require.NoError(t, err)
		assert.Equal(t, "true\n", out)

		_, err = exec(t, client, "get", "1")
		assert.ErrorIs(t, err, queue.ErrExecutionNotFound)
	})

	t.Run("workers with no registrations", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		out, err := exec(t, client, "workers")
		require.NoError(t, err)
		assert.Contains(t, out, "TOTAL")
	})

	t.Run("admin commands without listeners", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		for _, cmd := range [][]string{{"pause", "-queue", "mail"}, {"unpause"}, {"stop-job", "3"}, {"shutdown"}, {"cleanup"}} {
			out, err := exec(t, client, cmd...)
			require.NoError(t, err, cmd[0])
			assert.Equal(t, "no channel workers are listening\n", out)
		}
	})

	t.Run("invalid input", func(t *testing.T) {
		t.Parallel()
		client := newTestClient(t)

		_, err := exec(t, client)
		assert.ErrorIs(t, err, errUsage)

		_, err = exec(t, client, "frobnicate")
		assert.ErrorIs(t, err, errUsage)

		_, err = exec(t, client, "enqueue", `{"a":1}`)
		assert.ErrorContains(t, err, "-type is required")

		_, err = exec(t, client, "enqueue", "-type", "x", "{not json")
		assert.ErrorContains(t, err, "not valid JSON")

		_, err = exec(t, client, "get", "abc")
		assert.ErrorContains(t, err, "invalid execution id")

		_, err = exec(t, client, "list", "-inflight")
		assert.Error(t, err)

		_, err = exec(t, client, "list", "-bogus")
		assert.Error(t, err)
	})
}
