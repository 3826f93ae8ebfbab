package queue

import (
	"context"
	"log/slog"
	"slices"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// NewChannelWorker creates a worker that receives executions over pub/sub channels
// instead of polling queues.
//
// Channel delivery is at-most-once: a message published while no channel worker is
// subscribed is lost, and a job vetoed or interrupted is not restored. Executions
// received this way are never stored, so Progress reports them as not found.
func NewChannelWorker(client redis.UniversalClient, namespace string, stats StatsRepository, channels []string, opts ...WorkerOption) (*Worker, error) {
	if client == nil || stats == nil {
		return nil, ErrRepositoryNil
	}
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	k := newKeys(namespace)
	byKey := make(map[string]string, len(channels))
	for _, c := range channels {
		if c == "" {
			return nil, ErrEmptyQueueName
		}
		byKey[k.channel(c)] = c
	}

	src := &channelSource{
		client:   client,
		channels: slices.Clone(channels),
		byKey:    byKey,
	}
	return newWorker(src, stats, buildWorkerOptions(opts)), nil
}

// channelSource acquires executions from a pub/sub subscription.
type channelSource struct {
	client   redis.UniversalClient
	channels []string
	byKey    map[string]string // channel key -> channel name

	pubsub   *redis.PubSub
	messages <-chan *redis.Message
}

func (s *channelSource) targets() []string { return s.channels }

func (s *channelSource) updater() executionUpdater { return nil }

func (s *channelSource) open(ctx context.Context, w *Worker) error {
	keys := make([]string, 0, len(s.byKey))
	for k := range s.byKey {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	pubsub := s.client.Subscribe(ctx, keys...)
	// Wait for the subscription confirmation; messages published before it are lost.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}

	s.pubsub = pubsub
	s.messages = pubsub.Channel()

	w.logger.DebugContext(ctx, "subscribed to channels",
		logger.Worker(w.Name()),
		slog.Any("channels", s.channels))
	return nil
}

func (s *channelSource) acquire(ctx context.Context, w *Worker) (string, *Execution, error) {
	select {
	case msg, ok := <-s.messages:
		if !ok {
			return "", nil, ErrSubscriptionClosed
		}
		exec, err := decodeEnvelope([]byte(msg.Payload))
		if err != nil {
			w.logger.WarnContext(ctx, "dropping undecodable channel message",
				logger.Worker(w.Name()),
				logger.Channel(s.byKey[msg.Channel]),
				logger.Error(err))
			return "", nil, nil
		}
		return s.byKey[msg.Channel], exec, nil
	case <-w.wake:
	case <-ctx.Done():
	}
	return "", nil, nil
}

func (s *channelSource) restore(context.Context, *Worker, string) error { return nil }

func (s *channelSource) release(context.Context, *Worker, string) error { return nil }

func (s *channelSource) close() error {
	if s.pubsub == nil {
		return nil
	}
	return s.pubsub.Close()
}
