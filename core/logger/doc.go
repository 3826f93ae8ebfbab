// Package logger builds slog loggers for the job queue binaries and provides
// attribute helpers so that log keys stay consistent across packages.
//
// # Basic Usage
//
//	import "github.com/dmitrymomot/jobqueue/core/logger"
//
//	log := logger.New(
//		logger.WithProduction("jobworker"),
//		logger.WithLevel(slog.LevelDebug),
//	)
//
//	log.Info("worker started",
//		logger.Worker(name),
//		logger.Queue("default"),
//	)
//
// WithDevelopment writes text at debug level. WithStaging and WithProduction
// write JSON at info level. All three tag records with the service name and
// environment.
//
// # Context Extractors
//
// Extractors add attributes taken from the context of each record:
//
//	log := logger.New(
//		logger.WithJSONFormatter(),
//		logger.WithContextValue("tenant", tenantKey{}),
//		logger.WithContextExtractors(queue.LogJobAttrs),
//	)
//
//	// Inside a job handler this record carries the worker, queue and execution id.
//	log.InfoContext(ctx, "sending email")
//
// # Attribute Helpers
//
// Helpers return an empty slog.Attr for nil errors and empty identifiers,
// which slog omits, so they can be passed unconditionally:
//
//	log.Error("job failed",
//		logger.Worker(w),
//		logger.JobType(exec.Job.Type),
//		logger.Elapsed(start),
//		logger.Error(err),
//	)
//
// # Testing
//
//	var buf bytes.Buffer
//	log := logger.New(logger.WithJSONFormatter(), logger.WithOutput(&buf))
package logger
