package queue

import "time"

// Config holds the configuration for the queue service and its workers.
// Load it from the environment with config.Load.
type Config struct {
	Namespace string `env:"QUEUE_NAMESPACE" envDefault:"jobqueue"`

	// Worker configuration
	PollInterval    time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	Queues          []string      `env:"QUEUE_WORKER_QUEUES" envDefault:"default" envSeparator:","`
	// WorkerName is the worker name template. Crash recovery finds orphaned
	// jobs by name, so it must resolve to the same value after a restart:
	// avoid {pid} and {uuid} unless recovery is not wanted.
	WorkerName      string        `env:"QUEUE_WORKER_NAME" envDefault:"{host}-{id}:{queues}"`
	WorkerCount     int           `env:"QUEUE_WORKER_COUNT" envDefault:"1"`
	JobTimeout      time.Duration `env:"QUEUE_JOB_TIMEOUT" envDefault:"0s"`
	ShutdownTimeout time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Scheduler configuration
	CheckInterval time.Duration `env:"QUEUE_CHECK_INTERVAL" envDefault:"1s"`

	// Channel worker configuration
	Channels []string `env:"QUEUE_CHANNELS" envDefault:"admin" envSeparator:","`

	// Store configuration
	DecodeCacheSize int `env:"QUEUE_DECODE_CACHE_SIZE" envDefault:"1024"`
}

// DefaultConfig returns sensible defaults for production use.
func DefaultConfig() Config {
	return Config{
		Namespace:       "jobqueue",
		PollInterval:    time.Second,
		Queues:          []string{DefaultQueueName},
		WorkerName:      RecoverableWorkerName,
		WorkerCount:     1,
		ShutdownTimeout: 30 * time.Second,
		CheckInterval:   time.Second,
		Channels:        []string{DefaultAdminChannel},
		DecodeCacheSize: 1024,
	}
}
