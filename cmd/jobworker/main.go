// Command jobworker runs queue workers, the admin channel worker and the
// periodic scheduler against Redis. Configuration comes from the environment
// and an optional .env file.
//
// On startup each worker returns the jobs left inflight under its name to
// their queues. QUEUE_WORKER_NAME defaults to "{host}-{id}:{queues}", which
// a restarted container on the same host resolves to the same names. A
// template with {pid} or {uuid} gives up that recovery.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrymomot/jobqueue/app/worker"
	"github.com/dmitrymomot/jobqueue/core/logger"
	"github.com/dmitrymomot/jobqueue/core/queue"
)

// Echo logs its message. It is useful for checking a deployment end to end.
type Echo struct {
	Message string `json:"message"`
}

// Heartbeat is enqueued by the scheduler every minute.
type Heartbeat struct{}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *worker.App
	app, err := worker.NewApp(ctx,
		worker.WithHandlers(
			queue.NewNamedJobHandler("echo", func(ctx context.Context, p Echo) error {
				app.Logger().InfoContext(ctx, "echo", slog.String("message", p.Message))
				return nil
			}),
			queue.NewNamedJobHandler("heartbeat", func(ctx context.Context, _ Heartbeat) error {
				app.Logger().DebugContext(ctx, "heartbeat")
				return nil
			}),
		),
		worker.WithScheduledTask("heartbeat", queue.Every(time.Minute), Heartbeat{},
			queue.WithTaskJobType("heartbeat"),
		),
	)
	if err != nil {
		slog.Error("failed to start jobworker", logger.Error(err))
		os.Exit(1)
	}

	logger.SetAsDefault(app.Logger())
	app.Logger().Info("jobworker starting", logger.Component("jobworker"))

	if err := app.Run(ctx); err != nil {
		app.Logger().Error("jobworker stopped with error", logger.Error(err))
		os.Exit(1)
	}
	app.Logger().Info("jobworker stopped")
}
