package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/jobqueue/core/config"
	"github.com/dmitrymomot/jobqueue/core/health"
	"github.com/dmitrymomot/jobqueue/core/logger"
	"github.com/dmitrymomot/jobqueue/core/queue"
	"github.com/dmitrymomot/jobqueue/integration/database/redis"
)

const healthShutdownTimeout = 5 * time.Second

// App wires configuration, logging, Redis and the queue service of a worker process.
type App struct {
	config     Config
	configSet  bool
	rdb        goredis.UniversalClient
	ownsRedis  bool
	service    *queue.Service
	logger     *slog.Logger
	handlers   []queue.Handler
	svcOptions []queue.ServiceOption
	tasks      []scheduledTask
}

type scheduledTask struct {
	name     string
	schedule queue.Schedule
	payload  any
	opts     []queue.SchedulerTaskOption
}

type AppOption func(*App) error

// NewApp loads the configuration from the environment unless WithConfig is
// given, connects to Redis unless WithRedisClient is given and builds the service.
func NewApp(ctx context.Context, opts ...AppOption) (*App, error) {
	app := &App{}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if !app.configSet {
		if err := config.Load(&app.config); err != nil {
			return nil, err
		}
	}

	if app.logger == nil {
		app.logger = newLogger(app.config)
	}

	if app.rdb == nil {
		rdb, err := redis.Connect(ctx, app.config.Redis)
		if err != nil {
			return nil, err
		}
		app.rdb = rdb
		app.ownsRedis = true
	}

	svcOpts := []queue.ServiceOption{
		queue.WithServiceLogger(app.logger),
		queue.WithServiceHandlers(app.handlers...),
	}
	if n := app.config.Redis.ScanBatchSize; n > 0 {
		svcOpts = append(svcOpts, queue.WithStoreOptions(queue.WithScanBatchSize(int64(n))))
	}
	svcOpts = append(svcOpts, app.svcOptions...)

	service, err := queue.NewServiceFromConfig(app.config.Queue, app.rdb, svcOpts...)
	if err != nil {
		app.close()
		return nil, err
	}
	for _, t := range app.tasks {
		if err := service.AddScheduledTask(t.name, t.schedule, t.payload, t.opts...); err != nil {
			app.close()
			return nil, fmt.Errorf("schedule %q: %w", t.name, err)
		}
	}
	app.service = service

	return app, nil
}

func newLogger(cfg Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	opts := []logger.Option{logger.WithContextExtractors(queue.LogJobAttrs)}
	switch cfg.Env {
	case "production":
		opts = append(opts, logger.WithProduction(cfg.AppName))
	case "staging":
		opts = append(opts, logger.WithStaging(cfg.AppName))
	default:
		opts = append(opts, logger.WithDevelopment(cfg.AppName))
	}
	return logger.New(append(opts, logger.WithLevel(level))...)
}

func WithConfig(cfg Config) AppOption {
	return func(app *App) error {
		app.config = cfg
		app.configSet = true
		return nil
	}
}

func WithLogger(log *slog.Logger) AppOption {
	return func(app *App) error {
		if log == nil {
			return errors.New("logger cannot be nil")
		}
		app.logger = log
		return nil
	}
}

// WithRedisClient uses an existing client. The app does not close it.
func WithRedisClient(rdb goredis.UniversalClient) AppOption {
	return func(app *App) error {
		if rdb == nil {
			return errors.New("redis client cannot be nil")
		}
		app.rdb = rdb
		return nil
	}
}

func WithHandlers(handlers ...queue.Handler) AppOption {
	return func(app *App) error {
		app.handlers = append(app.handlers, handlers...)
		return nil
	}
}

func WithServiceOptions(opts ...queue.ServiceOption) AppOption {
	return func(app *App) error {
		app.svcOptions = append(app.svcOptions, opts...)
		return nil
	}
}

// WithScheduledTask registers a periodic job on the service scheduler.
func WithScheduledTask(name string, schedule queue.Schedule, payload any, opts ...queue.SchedulerTaskOption) AppOption {
	return func(app *App) error {
		app.tasks = append(app.tasks, scheduledTask{name: name, schedule: schedule, payload: payload, opts: opts})
		return nil
	}
}

func (app *App) Service() *queue.Service { return app.service }

func (app *App) Logger() *slog.Logger { return app.logger }

// Run runs the queue service and the health server until ctx is cancelled,
// the service stops or the health server fails. An empty HealthAddr disables the health server.
func (app *App) Run(ctx context.Context) error {
	defer app.close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// The service may stop on its own after a shutdown command.
	g.Go(func() error {
		defer cancel()
		return app.service.Run(ctx)
	})

	if addr := app.config.HealthAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           app.HealthHandler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			app.logger.InfoContext(ctx, "health server listening", slog.String("addr", addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), healthShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

// HealthHandler serves the liveness and readiness endpoints of the process.
func (app *App) HealthHandler() http.Handler {
	return health.Handler(app.logger,
		redis.Healthcheck(app.rdb),
		app.service.Healthcheck,
	)
}

func (app *App) close() {
	if app.ownsRedis && app.rdb != nil {
		if err := app.rdb.Close(); err != nil {
			app.logger.Warn("closing redis client", logger.Error(err))
		}
	}
}
