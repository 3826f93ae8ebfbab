package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// Service runs a pool of poll workers and an optional admin channel worker
// against one namespace, and gives producers a Client for the same namespace.
//
// Handlers registered on the service are shared by every worker.
//
// Example usage:
//
//	svc, err := queue.NewService(rdb, "jobs",
//	    queue.WithWorkerCount(4),
//	    queue.WithWorkerOptions(
//	        queue.WithQueues("critical", "default"),
//	        queue.WithPollInterval(500*time.Millisecond),
//	    ),
//	    queue.WithServiceLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	svc.RegisterHandler(queue.NewJobHandler(func(ctx context.Context, p SendEmail) error {
//	    return mailer.Send(ctx, p.To, p.Subject)
//	}))
//
//	go svc.Run(ctx)
//
//	id, err := svc.Client().Enqueue(ctx, SendEmail{To: "user@example.com"}, queue.WithQueue("critical"))
type Service struct {
	namespace string
	client    *Client
	store     Storage
	registry  *Registry
	logger    *slog.Logger

	workers       []*Worker
	channelWorker *Worker
	scheduler     *Scheduler

	workerCount     int
	workerOpts      []WorkerOption
	storeOpts       []StoreOption
	schedulerOpts   []SchedulerOption
	channels        []string
	shutdownTimeout time.Duration

	// Configuration for conditional startup
	skipWorkerIfNoHandlers bool
	skipSchedulerIfNoTasks bool

	// Hooks for custom initialization
	beforeStart func(context.Context) error
	afterStop   func() error
}

// NewService creates a queue service for the namespace.
func NewService(rdb redis.UniversalClient, namespace string, opts ...ServiceOption) (*Service, error) {
	if rdb == nil {
		return nil, ErrRepositoryNil
	}

	// Default service configuration with no-op logger
	s := &Service{
		namespace:              namespace,
		registry:               NewRegistry(),
		logger:                 slog.New(slog.NewTextHandler(io.Discard, nil)),
		workerCount:            1,
		channels:               []string{DefaultAdminChannel},
		shutdownTimeout:        30 * time.Second,
		skipWorkerIfNoHandlers: true,
		skipSchedulerIfNoTasks: true,
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("failed to apply service option: %w", err)
		}
	}

	client, err := NewClient(rdb, namespace, append([]StoreOption{WithStoreLogger(s.logger)}, s.storeOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.client = client
	s.store = client.Store()

	workerOpts := append([]WorkerOption{WithWorkerLogger(s.logger)}, s.workerOpts...)
	workerOpts = append(workerOpts, WithResolver(s.registry))
	if s.workerCount > 1 {
		workerOpts = append(workerOpts, uniqueWorkerName())
	}

	for range s.workerCount {
		w, err := NewWorker(client.Store(), client.Stats(), workerOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create worker: %w", err)
		}
		s.workers = append(s.workers, w)
	}

	scheduler, err := NewScheduler(client.Store(), append([]SchedulerOption{
		WithSchedulerLogger(s.logger),
		WithSchedulerLocker(client.Locks()),
	}, s.schedulerOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	s.scheduler = scheduler

	if len(s.channels) > 0 {
		cw, err := NewChannelWorker(rdb, namespace, client.Stats(), s.channels,
			WithWorkerLogger(s.logger),
			WithHandlers(adminHandlers(s)...),
			WithResolver(s.registry),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create channel worker: %w", err)
		}
		s.channelWorker = cw
	}

	return s, nil
}

// NewServiceFromConfig creates a queue service using configuration.
// Additional options override config values.
func NewServiceFromConfig(cfg Config, rdb redis.UniversalClient, opts ...ServiceOption) (*Service, error) {
	serviceOpts := append([]ServiceOption{
		WithWorkerCount(cfg.WorkerCount),
		WithChannels(cfg.Channels...),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithSchedulerOptions(
			WithCheckInterval(cfg.CheckInterval),
			WithSchedulerShutdownTimeout(cfg.ShutdownTimeout),
		),
		WithStoreOptions(WithDecodeCacheSize(cfg.DecodeCacheSize)),
		WithWorkerOptions(
			WithQueues(cfg.Queues...),
			WithPollInterval(cfg.PollInterval),
			WithJobTimeout(cfg.JobTimeout),
			WithWorkerName(cfg.WorkerName),
		),
	}, opts...)

	return NewService(rdb, cfg.Namespace, serviceOpts...)
}

// uniqueWorkerName makes sure workers sharing a template get distinct names.
func uniqueWorkerName() WorkerOption {
	return func(o *workerOptions) {
		if !strings.Contains(o.nameTemplate, "{id}") && !strings.Contains(o.nameTemplate, "{uuid}") {
			o.nameTemplate += "-{id}"
		}
	}
}

// Run starts all workers in an error group and blocks until they have stopped.
// Poll workers are skipped when no handler is registered (see WithSkipWorkerIfNoHandlers),
// and the scheduler when no periodic job is registered.
// A worker failure cancels the others.
//
// Once ctx is cancelled, workers drain the job in progress; jobs still running
// after the shutdown timeout have their context cancelled.
func (s *Service) Run(ctx context.Context) error {
	if s.beforeStart != nil {
		if err := s.beforeStart(ctx); err != nil {
			return fmt.Errorf("before start hook failed: %w", err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)

	if s.skipWorkerIfNoHandlers && s.registry.Len() == 0 {
		s.logger.InfoContext(ctx, "no job handlers registered, poll workers will not start")
	} else {
		for _, w := range s.workers {
			s.logger.InfoContext(ctx, "starting queue worker",
				logger.Worker(w.Name()),
				slog.Any("queues", w.Queues()))
			eg.Go(w.Run(egCtx))
		}
	}

	if s.channelWorker != nil {
		s.logger.InfoContext(ctx, "starting channel worker",
			logger.Worker(s.channelWorker.Name()),
			slog.Any("channels", s.channelWorker.Queues()))
		eg.Go(s.channelWorker.Run(egCtx))
	}

	if tasks := s.scheduler.ListTasks(); s.skipSchedulerIfNoTasks && len(tasks) == 0 {
		s.logger.InfoContext(ctx, "no periodic jobs registered, scheduler will not start")
	} else {
		s.logger.InfoContext(ctx, "starting queue scheduler", slog.Int("task_count", len(tasks)))
		eg.Go(s.scheduler.Run(egCtx))
	}

	done := make(chan struct{})
	go s.enforceShutdownTimeout(egCtx, done)

	err := eg.Wait()
	close(done)

	if s.afterStop != nil {
		if stopErr := s.afterStop(); stopErr != nil {
			if err == nil {
				err = fmt.Errorf("after stop hook failed: %w", stopErr)
			} else {
				// Use context.Background() since original context may be cancelled
				s.logger.ErrorContext(context.Background(), "after stop hook failed", logger.Errors(err, stopErr))
			}
		}
	}

	return err
}

// enforceShutdownTimeout cancels the jobs still running once the shutdown timeout elapses.
func (s *Service) enforceShutdownTimeout(ctx context.Context, done <-chan struct{}) {
	select {
	case <-done:
		return
	case <-ctx.Done():
	}
	if s.shutdownTimeout <= 0 {
		return
	}

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
	case <-timer.C:
		for _, w := range s.allWorkers() {
			if exec, ok := w.Current(); ok && w.StopJob(exec.ID) {
				s.logger.Warn("shutdown timeout exceeded, cancelled running job",
					logger.Worker(w.Name()),
					logger.ExecutionID(exec.ID),
					slog.Duration("timeout", s.shutdownTimeout))
			}
		}
	}
}

// Stop asks every running worker to finish its job in progress and exit,
// and stops the scheduler.
func (s *Service) Stop() error {
	s.logger.Info("stopping queue service")

	var errs []error
	if err := s.scheduler.Stop(); err != nil && !errors.Is(err, ErrSchedulerNotRunning) {
		errs = append(errs, err)
	}
	for _, w := range s.allWorkers() {
		if err := w.Stop(); err != nil && !errors.Is(err, ErrWorkerNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Healthcheck reports whether every started worker, and the scheduler when it
// has periodic jobs, is operational.
func (s *Service) Healthcheck(ctx context.Context) error {
	var errs []error
	if len(s.scheduler.ListTasks()) > 0 {
		if err := s.scheduler.Healthcheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	for _, w := range s.allWorkers() {
		if w.Status() == "" {
			continue
		}
		if err := w.Healthcheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("worker %q: %w", w.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) allWorkers() []*Worker {
	all := make([]*Worker, 0, len(s.workers)+1)
	all = append(all, s.workers...)
	if s.channelWorker != nil {
		all = append(all, s.channelWorker)
	}
	return all
}

// Namespace returns the namespace of the service.
func (s *Service) Namespace() string {
	return s.namespace
}

// Workers returns the poll workers.
func (s *Service) Workers() []*Worker {
	return s.workers
}

// ChannelWorker returns the admin channel worker, or nil when channels are disabled.
func (s *Service) ChannelWorker() *Worker {
	return s.channelWorker
}

// Scheduler returns the periodic job scheduler.
func (s *Service) Scheduler() *Scheduler {
	return s.scheduler
}

// AddScheduledTask registers a periodic job.
// This is a convenience method equivalent to service.Scheduler().AddTask(name, schedule, payload, opts...).
func (s *Service) AddScheduledTask(name string, schedule Schedule, payload any, opts ...SchedulerTaskOption) error {
	return s.scheduler.AddTask(name, schedule, payload, opts...)
}

// Client returns the producer-side client of the namespace.
func (s *Service) Client() *Client {
	return s.client
}

// RegisterHandler registers a job handler shared by all workers.
func (s *Service) RegisterHandler(handler Handler) error {
	s.registry.Register(handler)
	return nil
}

// RegisterHandlers registers multiple job handlers shared by all workers.
func (s *Service) RegisterHandlers(handlers ...Handler) error {
	s.registry.Register(handlers...)
	return nil
}

// Enqueue adds a job to a queue.
// This is a convenience method equivalent to service.Client().Enqueue(ctx, payload, opts...).
func (s *Service) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (int64, error) {
	return s.client.Enqueue(ctx, payload, opts...)
}

// Publish sends a job to the channel workers of the namespace.
// This is a convenience method equivalent to service.Client().Publish(ctx, channel, payload, opts...).
func (s *Service) Publish(ctx context.Context, channel string, payload any, opts ...EnqueueOption) (int64, error) {
	return s.client.Publish(ctx, channel, payload, opts...)
}
