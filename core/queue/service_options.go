package queue

import (
	"context"
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service) error

// WithServiceLogger sets the logger for the service and the components it creates.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) error {
		if logger == nil {
			return nil // Just use the default logger
		}
		s.logger = logger
		return nil
	}
}

// WithWorkerOptions applies options to every poll worker.
// Options given here override the service defaults.
func WithWorkerOptions(opts ...WorkerOption) ServiceOption {
	return func(s *Service) error {
		s.workerOpts = append(s.workerOpts, opts...)
		return nil
	}
}

// WithSchedulerOptions applies options to the scheduler.
func WithSchedulerOptions(opts ...SchedulerOption) ServiceOption {
	return func(s *Service) error {
		s.schedulerOpts = append(s.schedulerOpts, opts...)
		return nil
	}
}

// WithSkipSchedulerIfNoTasks configures whether the scheduler should be skipped
// if no periodic jobs are registered. Default is true.
func WithSkipSchedulerIfNoTasks(skip bool) ServiceOption {
	return func(s *Service) error {
		s.skipSchedulerIfNoTasks = skip
		return nil
	}
}

// WithStoreOptions applies options to the queue store.
func WithStoreOptions(opts ...StoreOption) ServiceOption {
	return func(s *Service) error {
		s.storeOpts = append(s.storeOpts, opts...)
		return nil
	}
}

// WithWorkerCount sets the number of poll workers. Default is 1.
func WithWorkerCount(n int) ServiceOption {
	return func(s *Service) error {
		if n > 0 {
			s.workerCount = n
		}
		return nil
	}
}

// WithChannels sets the channels of the admin channel worker.
// Called with no channels, it disables the channel worker.
func WithChannels(channels ...string) ServiceOption {
	return func(s *Service) error {
		s.channels = channels
		return nil
	}
}

// WithShutdownTimeout bounds how long Run waits for running jobs after
// its context is cancelled before cancelling them. Zero waits forever.
func WithShutdownTimeout(d time.Duration) ServiceOption {
	return func(s *Service) error {
		if d >= 0 {
			s.shutdownTimeout = d
		}
		return nil
	}
}

// WithSkipWorkerIfNoHandlers configures whether poll workers should be skipped
// if no handlers are registered. Default is true.
func WithSkipWorkerIfNoHandlers(skip bool) ServiceOption {
	return func(s *Service) error {
		s.skipWorkerIfNoHandlers = skip
		return nil
	}
}

// WithBeforeStart sets a hook that runs before the service starts.
// This can be used for custom initialization logic.
func WithBeforeStart(hook func(context.Context) error) ServiceOption {
	return func(s *Service) error {
		s.beforeStart = hook
		return nil
	}
}

// WithAfterStop sets a hook that runs after the service stops.
// This can be used for cleanup logic.
func WithAfterStop(hook func() error) ServiceOption {
	return func(s *Service) error {
		s.afterStop = hook
		return nil
	}
}

// WithServiceHandlers registers job handlers during service creation.
func WithServiceHandlers(handlers ...Handler) ServiceOption {
	return func(s *Service) error {
		s.registry.Register(handlers...)
		return nil
	}
}
