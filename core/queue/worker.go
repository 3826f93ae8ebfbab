package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobqueue/core/logger"
)

// DefaultWorkerName is the name template used when no name is configured.
// It includes the process id, so a restarted process gets a new name and
// does not recover the inflight jobs of its predecessor.
const DefaultWorkerName = "{host}:{pid}-{id}:{queues}"

// RecoverableWorkerName resolves to the same name across restarts of a process
// that builds its workers in the same order, so orphaned inflight jobs are
// restored on startup. It is the Config default.
const RecoverableWorkerName = "{host}-{id}:{queues}"

// waitPollInterval is how often WaitUntilStopped checks the worker status.
const waitPollInterval = 20 * time.Millisecond

// QueueRepository defines the queue operations a polling worker needs.
type QueueRepository interface {
	// Pop atomically moves the head of the queue into the worker's inflight marker.
	Pop(ctx context.Context, queue, worker string) (*Execution, error)

	// RemoveInflight clears the worker's inflight marker and deletes the finished execution.
	RemoveInflight(ctx context.Context, queue, worker string) error

	// RestoreInflight moves the inflight id back to the head of the queue.
	RestoreInflight(ctx context.Context, queue, worker string) (bool, error)

	// Update rewrites the stored execution (progress snapshots).
	Update(ctx context.Context, exec *Execution) error
}

// StatsRepository defines the worker bookkeeping operations.
type StatsRepository interface {
	Register(ctx context.Context, name string, state WorkerState) error
	Save(ctx context.Context, name string, state WorkerState) error
	IncrSuccess(ctx context.Context, name string) error
	IncrFailure(ctx context.Context, name string) error
	Unregister(ctx context.Context, name string) error
}

// jobSource is how a worker acquires executions and tracks the one in flight.
type jobSource interface {
	// targets lists the queue or channel names the source reads from.
	targets() []string
	// open prepares the source once the worker is registered.
	open(ctx context.Context, w *Worker) error
	// acquire returns the next execution, or a nil execution when none is ready.
	acquire(ctx context.Context, w *Worker) (string, *Execution, error)
	// restore gives a vetoed execution back to its queue.
	restore(ctx context.Context, w *Worker, queue string) error
	// release clears the inflight marker once processing ends.
	release(ctx context.Context, w *Worker, queue string) error
	close() error
	updater() executionUpdater
}

var workerSeq atomic.Int64

type activeJob struct {
	exec   *Execution
	cancel context.CancelFunc
}

// Worker drives one job-processing loop.
//
// A worker runs on a single goroutine: it acquires an execution, runs it through
// the process, execute and start events, invokes the handler and reports the
// outcome. Listeners may veto the poll, process and execute steps.
//
// Shutdown is cooperative: Stop lets the job in progress finish before the loop exits.
type Worker struct {
	id           int64
	nameTemplate string
	nameOnce     sync.Once
	name         string

	source   jobSource
	stats    StatsRepository
	registry *Registry
	resolver Resolver
	events   *listeners

	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger

	mu        sync.Mutex // guards state and started
	state     WorkerState
	started   bool
	persistMu sync.Mutex // serializes writes of state to the stats store

	running atomic.Bool
	wake    chan struct{}
	current atomic.Pointer[activeJob]
}

// NewWorker creates a worker polling queues of the repository.
func NewWorker(repo QueueRepository, stats StatsRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil || stats == nil {
		return nil, ErrRepositoryNil
	}

	options := buildWorkerOptions(opts)
	if len(options.queues) == 0 {
		return nil, ErrNoQueues
	}
	for _, q := range options.queues {
		if q == "" {
			return nil, ErrEmptyQueueName
		}
	}

	src := &pollSource{repo: repo, queues: slices.Clone(options.queues)}
	return newWorker(src, stats, options), nil
}

// NewWorkerFromConfig creates a polling worker from configuration.
// Additional options override config values.
func NewWorkerFromConfig(cfg Config, repo QueueRepository, stats StatsRepository, opts ...WorkerOption) (*Worker, error) {
	allOpts := append([]WorkerOption{
		WithQueues(cfg.Queues...),
		WithPollInterval(cfg.PollInterval),
		WithJobTimeout(cfg.JobTimeout),
		WithWorkerName(cfg.WorkerName),
	}, opts...)

	return NewWorker(repo, stats, allOpts...)
}

func buildWorkerOptions(opts []WorkerOption) *workerOptions {
	options := &workerOptions{
		queues:       []string{DefaultQueueName},
		nameTemplate: DefaultWorkerName,
		pollInterval: time.Second,
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)), // No-op logger by default
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

func newWorker(src jobSource, stats StatsRepository, options *workerOptions) *Worker {
	w := &Worker{
		id:           workerSeq.Add(1),
		nameTemplate: options.nameTemplate,
		source:       src,
		stats:        stats,
		registry:     NewRegistry(options.handlers...),
		resolver:     options.resolver,
		events:       &listeners{logger: options.logger},
		pollInterval: options.pollInterval,
		jobTimeout:   options.jobTimeout,
		logger:       options.logger,
		wake:         make(chan struct{}, 1),
	}
	for _, s := range options.listeners {
		w.events.add(s.fn, s.types...)
	}
	return w
}

// RegisterHandler registers a single job handler.
func (w *Worker) RegisterHandler(handler Handler) error {
	w.registry.Register(handler)
	return nil
}

// RegisterHandlers registers multiple job handlers.
func (w *Worker) RegisterHandlers(handlers ...Handler) error {
	w.registry.Register(handlers...)
	return nil
}

// OnEvent subscribes a listener to the given event types, or to all events when none are given.
func (w *Worker) OnEvent(fn Listener, types ...EventType) {
	w.events.add(fn, types...)
}

// ID returns the process-wide unique id of the worker.
func (w *Worker) ID() int64 {
	return w.id
}

// Name returns the worker name. A name template is resolved on first use.
func (w *Worker) Name() string {
	w.nameOnce.Do(func() {
		host, _ := os.Hostname()
		if host == "" {
			host = "localhost"
		}
		w.name = strings.NewReplacer(
			"{host}", host,
			"{pid}", strconv.Itoa(os.Getpid()),
			"{id}", strconv.FormatInt(w.id, 10),
			"{queues}", strings.Join(w.source.targets(), ","),
			"{uuid}", uuid.NewString(),
		).Replace(w.nameTemplate)
	})
	return w.name
}

// Queues returns the queues (or channels) the worker reads from.
func (w *Worker) Queues() []string {
	return slices.Clone(w.source.targets())
}

// Status returns the current lifecycle status.
func (w *Worker) Status() WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Status
}

// State returns a snapshot of the worker state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := w.state
	s.Queues = slices.Clone(s.Queues)
	return s
}

// Current returns the execution being handled, if any.
func (w *Worker) Current() (*Execution, bool) {
	if a := w.current.Load(); a != nil {
		return a.exec, true
	}
	return nil, false
}

// Start runs the worker loop. This is a blocking operation that returns nil once
// the worker has stopped, or an error when the worker failed.
// Cancelling ctx is equivalent to calling Stop.
func (w *Worker) Start(ctx context.Context) (err error) {
	if w.registry.Len() == 0 && w.resolver == nil {
		return ErrNoHandlers
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return ErrWorkerAlreadyStarted
	}
	w.started = true
	w.state = WorkerState{
		Status:    WorkerRunning,
		Queues:    w.Queues(),
		StartedAt: time.Now(),
	}
	snapshot := w.state
	w.running.Store(true)
	w.mu.Unlock()

	name := w.Name()
	// Store bookkeeping must survive cancellation of ctx so that the job in
	// progress can finish and be cleared.
	bg := context.WithoutCancel(ctx)

	defer func() {
		if r := recover(); r != nil {
			err = w.fail(bg, fmt.Errorf("panic in worker loop: %v", r))
		}
	}()

	if err := w.stats.Register(bg, name, snapshot); err != nil {
		return w.fail(bg, err)
	}
	w.emit(bg, Event{Type: EventWorkerStart})

	if err := w.source.open(bg, w); err != nil {
		return w.fail(bg, err)
	}
	defer func() {
		if err := w.source.close(); err != nil {
			w.logger.WarnContext(bg, "failed to close job source",
				logger.Worker(name),
				logger.Error(err))
		}
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Stop()
		case <-done:
		}
	}()

	w.logger.InfoContext(bg, "worker started",
		logger.Worker(name),
		slog.Any("queues", snapshot.Queues),
		slog.Duration("poll_interval", w.pollInterval))

	if err := w.loop(ctx); err != nil {
		return w.fail(bg, err)
	}
	return w.finish(bg)
}

// Run provides errgroup compatibility: the returned function runs the worker
// until ctx is cancelled and the job in progress has drained.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		return w.Start(ctx)
	}
}

func (w *Worker) loop(ctx context.Context) error {
	bg := context.WithoutCancel(ctx)

	for w.running.Load() {
		if w.Status() == WorkerPaused {
			w.sleep(ctx, w.pollInterval)
			continue
		}

		queue, exec, err := w.source.acquire(ctx, w)
		if err != nil {
			return err
		}
		if exec == nil {
			continue
		}

		if err := w.process(bg, queue, exec); err != nil {
			if errors.Is(err, ErrJobFailed) {
				continue
			}
			return err
		}
	}
	return nil
}

// process runs the event pipeline for one acquired execution.
// Job failures are returned wrapped in ErrJobFailed; any other error comes from the store.
func (w *Worker) process(ctx context.Context, queue string, exec *Execution) (err error) {
	defer func() {
		if rerr := w.source.release(ctx, w, queue); rerr != nil {
			err = rerr
		}
	}()

	evt := Event{Queue: queue, Execution: exec}

	if w.emit(ctx, evt.with(EventProcess)) == Veto {
		w.emit(ctx, evt.with(EventSkipped))
		return w.source.restore(ctx, w, queue)
	}
	// A veto here drops the job: release deletes it along with the inflight marker.
	if w.emit(ctx, evt.with(EventExecute)) == Veto {
		w.emit(ctx, evt.with(EventSkipped))
		return nil
	}
	w.emit(ctx, evt.with(EventJobStart))

	start := time.Now()
	if cause := w.execute(ctx, queue, exec); cause != nil {
		return w.onFailure(ctx, evt, cause, start)
	}
	return w.onSuccess(ctx, evt, start)
}

// execute resolves and invokes the handler. Handler panics are returned as errors.
func (w *Worker) execute(ctx context.Context, queue string, exec *Execution) (err error) {
	handler, ok := w.resolve(exec.Job.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrHandlerNotFound, exec.Job.Type)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	if w.jobTimeout > 0 {
		jobCtx, cancel = context.WithTimeout(ctx, w.jobTimeout)
	}
	defer cancel()

	active := &activeJob{exec: exec, cancel: cancel}
	w.current.Store(active)
	defer w.current.CompareAndSwap(active, nil)

	snapshot := *exec
	jc := &jobContext{exec: &snapshot, queue: queue, worker: w.Name(), updater: w.source.updater()}
	defer func() {
		jc.mu.Lock()
		exec.Result = jc.exec.Result
		jc.mu.Unlock()
	}()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in handler: %v", r)
		}
	}()

	return handler.Handle(withJobContext(jobCtx, jc), exec.Job.Payload)
}

func (w *Worker) onSuccess(ctx context.Context, evt Event, start time.Time) error {
	w.mu.Lock()
	w.state.SuccessCount++
	w.mu.Unlock()

	if err := w.persist(ctx); err != nil {
		return err
	}
	if err := w.stats.IncrSuccess(ctx, w.Name()); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "job completed successfully",
		logger.Worker(w.Name()),
		logger.Queue(evt.Queue),
		logger.ExecutionID(evt.Execution.ID),
		logger.JobType(evt.Execution.Job.Type),
		logger.Elapsed(start))

	w.emit(ctx, evt.with(EventSuccess))
	return nil
}

func (w *Worker) onFailure(ctx context.Context, evt Event, cause error, start time.Time) error {
	w.mu.Lock()
	w.state.FailedCount++
	w.mu.Unlock()

	if err := w.persist(ctx); err != nil {
		return err
	}
	if err := w.stats.IncrFailure(ctx, w.Name()); err != nil {
		return err
	}

	w.logger.ErrorContext(ctx, "job failed",
		logger.Worker(w.Name()),
		logger.Queue(evt.Queue),
		logger.ExecutionID(evt.Execution.ID),
		logger.JobType(evt.Execution.Job.Type),
		logger.Elapsed(start),
		logger.Error(cause))

	evt.Err = cause
	w.emit(ctx, evt.with(EventFailure))

	return fmt.Errorf("%w: execution %d (%s): %w", ErrJobFailed, evt.Execution.ID, evt.Execution.Job.Type, cause)
}

// Stop asks the worker to finish the job in progress and exit. It is idempotent.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return ErrWorkerNotRunning
	}
	if w.state.Status == WorkerStopping || w.state.Status.Terminal() {
		w.mu.Unlock()
		return nil
	}
	w.state.Status = WorkerStopping
	w.mu.Unlock()

	ctx := context.Background()
	if err := w.persist(ctx); err != nil {
		w.logger.WarnContext(ctx, "failed to persist worker state",
			logger.Worker(w.Name()),
			logger.Error(err))
	}
	w.emit(ctx, Event{Type: EventWorkerStopping})

	w.logger.InfoContext(ctx, "worker stopping, waiting for the job in progress to complete",
		logger.Worker(w.Name()))

	w.running.Store(false)
	w.signal()
	return nil
}

// StopJob cancels the handler context of the execution in progress if its id matches.
// It reports whether a job was cancelled. A job finishing at the same moment may
// complete normally instead.
func (w *Worker) StopJob(id int64) bool {
	a := w.current.Load()
	if a == nil || a.exec.ID != id {
		return false
	}
	a.cancel()

	w.logger.Info("job cancellation requested",
		logger.Worker(w.Name()),
		logger.ExecutionID(id))
	return true
}

// Pause suspends polling after the job in progress. Pausing a paused worker is a no-op.
func (w *Worker) Pause(ctx context.Context) error {
	return w.transition(ctx, WorkerRunning, WorkerPaused, EventWorkerPaused)
}

// Unpause resumes polling. Unpausing a running worker is a no-op.
func (w *Worker) Unpause(ctx context.Context) error {
	if err := w.transition(ctx, WorkerPaused, WorkerRunning, EventWorkerUnpaused); err != nil {
		return err
	}
	w.signal()
	return nil
}

func (w *Worker) transition(ctx context.Context, from, to WorkerStatus, evt EventType) error {
	w.mu.Lock()
	if w.started && w.state.Status == to {
		w.mu.Unlock()
		return nil
	}
	if !w.started || w.state.Status != from {
		w.mu.Unlock()
		return ErrWorkerNotPausable
	}
	w.state.Status = to
	w.mu.Unlock()

	if err := w.persist(ctx); err != nil {
		return err
	}
	w.emit(ctx, Event{Type: evt})
	return nil
}

// WaitUntilStopped blocks until the worker reaches a terminal state or ctx is done.
func (w *Worker) WaitUntilStopped(ctx context.Context) error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()
	if !started {
		return ErrWorkerNotRunning
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for {
		if w.Status().Terminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Healthcheck validates that the worker is operational.
// A paused worker is healthy.
//
// The returned error can be checked using errors.Is:
//
//	if errors.Is(err, queue.ErrWorkerNotRunning) { ... }
func (w *Worker) Healthcheck(ctx context.Context) error {
	switch w.Status() {
	case WorkerRunning, WorkerPaused:
		return nil
	default:
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}
}

// fail moves the worker to the terminal FAILED state.
func (w *Worker) fail(ctx context.Context, cause error) error {
	w.running.Store(false)
	w.mu.Lock()
	w.state.Status = WorkerFailed
	w.mu.Unlock()

	w.logger.ErrorContext(ctx, "worker failed",
		logger.Worker(w.Name()),
		logger.Error(cause))

	w.persistMu.Lock()
	if err := w.stats.Save(ctx, w.Name(), w.State()); err != nil {
		w.logger.DebugContext(ctx, "failed to persist failed worker state",
			logger.Worker(w.Name()),
			logger.Error(err))
	}
	w.persistMu.Unlock()

	w.emit(ctx, Event{Type: EventWorkerError, Err: cause})
	return fmt.Errorf("worker %q failed: %w", w.Name(), cause)
}

// finish moves the worker to STOPPED and removes it from the stats store.
func (w *Worker) finish(ctx context.Context) error {
	w.mu.Lock()
	w.state.Status = WorkerStopped
	w.mu.Unlock()

	w.persistMu.Lock()
	err := w.stats.Unregister(ctx, w.Name())
	w.persistMu.Unlock()

	w.emit(ctx, Event{Type: EventWorkerStopped})
	w.logger.InfoContext(ctx, "worker stopped cleanly", logger.Worker(w.Name()))

	if err != nil {
		return fmt.Errorf("worker %q stopped but could not unregister: %w", w.Name(), err)
	}
	return nil
}

// persist writes the current state unless the worker already reached a terminal state.
func (w *Worker) persist(ctx context.Context) error {
	w.persistMu.Lock()
	defer w.persistMu.Unlock()

	state := w.State()
	if state.Status.Terminal() {
		return nil
	}
	return w.stats.Save(ctx, w.Name(), state)
}

func (w *Worker) resolve(jobType string) (Handler, bool) {
	if h, ok := w.registry.Resolve(jobType); ok {
		return h, true
	}
	if w.resolver != nil {
		return w.resolver.Resolve(jobType)
	}
	return nil, false
}

func (w *Worker) emit(ctx context.Context, evt Event) Decision {
	evt.Worker = w.Name()
	return w.events.emit(ctx, evt)
}

// sleep waits for d, a wake-up signal or ctx cancellation, whichever comes first.
func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
	case <-w.wake:
	case <-ctx.Done():
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (e Event) with(t EventType) Event {
	e.Type = t
	return e
}
