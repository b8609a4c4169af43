package config

import "time"

// QueueConfig contains worker pool configuration for async simulation runs.
type QueueConfig struct {
	// Workers is the number of worker goroutines draining the queue.
	Workers int `yaml:"workers"`

	// QueueSize bounds the enqueue channel. A full queue rejects new async
	// starts rather than blocking the API.
	QueueSize int `yaml:"queue_size"`

	// SessionTimeout is the maximum wall-clock time a worker spends on one
	// session before its context is cancelled.
	SessionTimeout Duration `yaml:"session_timeout"`

	// GracefulShutdownTimeout is the max time to wait for active runs to
	// finish during shutdown.
	GracefulShutdownTimeout Duration `yaml:"graceful_shutdown_timeout"`
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		Workers:                 4,
		QueueSize:               64,
		SessionTimeout:          Duration(10 * time.Minute),
		GracefulShutdownTimeout: Duration(30 * time.Second),
	}
}
