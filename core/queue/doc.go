// Package queue provides a Redis-backed job queue with polling workers,
// pub/sub channel workers, periodic scheduling and remote administration.
//
// Jobs are JSON payloads tagged with a type. Producers enqueue them into named
// queues; workers pop them one at a time, resolve a handler by type and report
// the outcome. Every enqueued job gets a numeric id and is stored as an
// execution until it is dequeued.
//
// # Features
//
//   - FIFO queues with head-of-queue priority
//   - Crash recovery: a job in flight is returned to its queue when its worker restarts
//   - Ordered event listeners that can veto polling, processing and execution
//   - Pause, unpause, job cancellation and shutdown over an admin channel
//   - Periodic jobs enqueued exactly once per run across processes
//   - Worker state and processed/failed counters kept in Redis
//   - Type-safe handlers using Go generics
//
// # Basic Usage
//
//	import "github.com/dmitrymomot/jobqueue/core/queue"
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//
//	svc, err := queue.NewService(rdb, "jobs",
//		queue.WithWorkerCount(2),
//		queue.WithWorkerOptions(queue.WithQueues("critical", "default")),
//	)
//
//	type SendEmail struct {
//		To string `json:"to"`
//	}
//
//	svc.RegisterHandler(queue.NewJobHandler(func(ctx context.Context, p SendEmail) error {
//		return mailer.Send(ctx, p.To)
//	}))
//
//	go svc.Run(ctx)
//
//	id, err := svc.Enqueue(ctx, SendEmail{To: "user@example.com"},
//		queue.WithQueue("critical"),
//		queue.WithPriority(),
//	)
//
// # Storage Layout
//
// All keys live under the namespace prefix:
//
//	ns:id                   execution id counter
//	ns:queues               set of known queue names
//	ns:queue:<q>            list of waiting execution ids, head first
//	ns:executions           hash of execution id to execution JSON
//	ns:inflight:<w>:<q>     id being processed by worker w from queue q
//	ns:workers              set of registered worker names
//	ns:worker:<w>           worker state JSON
//	ns:stat:processed[:<w>] processed counter, global and per worker
//	ns:stat:failed[:<w>]    failed counter, global and per worker
//	ns:channel:<c>          pub/sub channel of channel workers
//	ns:lock:<name>          distributed lock
//
// With Redis Cluster, use a hash-tagged namespace such as "{jobs}" so that
// multi-key scripts stay on one slot.
//
// # Workers
//
// A worker polls its queues in order. A round stops at the first queue that
// yields a job, so earlier queues take precedence. When a round finds nothing,
// the worker sleeps for the poll interval.
//
// Each job goes through these events:
//
//	job.poll -> job.process -> job.execute -> job.start -> job.success | job.failure
//
// A listener vetoing job.process returns the job to the head of its queue.
// A veto of job.execute drops it from the queue. Both emit job.skipped.
//
//	w, _ := queue.NewWorker(store, stats,
//		queue.WithListener(func(ctx context.Context, evt queue.Event) queue.Decision {
//			if maintenance.Active() {
//				return queue.Veto
//			}
//			return queue.Continue
//		}, queue.EventProcess),
//	)
//
// Handlers may record progress, which replaces the stored result of the execution:
//
//	queue.Progress(ctx, ImportProgress{Rows: n})
//
// # Channel Workers
//
// Channel workers receive jobs published with Client.Publish. Delivery is
// at-most-once: nothing is stored and a job published while no worker listens
// is lost. The service runs one on the admin channel to process PauseWorkers,
// UnpauseWorkers, StopJob, ShutdownWorkers and CleanUpQueues.
//
// # Periodic Jobs
//
//	svc.AddScheduledTask("nightly-report", queue.Every(24*time.Hour), BuildReport{},
//		queue.WithTaskQueue("reports"),
//	)
//
// Run times are aligned to the Unix epoch, so schedulers in different processes
// agree on them and a lock makes sure each run is enqueued once.
//
// # Error Handling
//
// The package exports sentinel errors for errors.Is checks:
//
//	if errors.Is(err, queue.ErrExecutionNotFound) {
//		// already dequeued
//	}
//
// Handler errors and panics fail the job without stopping the worker.
// A store error stops the worker in the FAILED state.
package queue
