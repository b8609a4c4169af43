// Package queue runs asynchronous simulations on a bounded worker pool.
// The API enqueues session ids; workers drain the queue and drive each
// session through the pipeline with a per-run timeout and cancel handle.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrQueueFull indicates the enqueue buffer is at capacity. Callers
	// surface this as a retryable conflict rather than blocking the API.
	ErrQueueFull = errors.New("simulation queue is full")

	// ErrPoolStopped indicates the pool is no longer accepting work.
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// SimulationExecutor is the interface workers call to run one session.
//
// The executor owns the entire run internally: stage sequencing, status
// transitions, audit and broadcast. The worker only handles dequeueing,
// the run timeout and the cancel registry. A session that is no longer
// runnable (paused or terminal by the time a worker picks it up) returns
// an error the worker treats as benign.
type SimulationExecutor interface {
	ExecuteSimulation(ctx context.Context, sessionID string) error
}

// PoolHealth contains health information for the entire worker pool.
type PoolHealth struct {
	IsHealthy         bool           `json:"is_healthy"`
	ActiveWorkers     int            `json:"active_workers"`
	TotalWorkers      int            `json:"total_workers"`
	ActiveRuns        int            `json:"active_runs"`
	QueueDepth        int            `json:"queue_depth"`
	QueueCapacity     int            `json:"queue_capacity"`
	SessionsProcessed int            `json:"sessions_processed"`
	WorkerStats       []WorkerHealth `json:"worker_stats"`
}

// WorkerHealth contains health information for a single worker.
type WorkerHealth struct {
	ID                string    `json:"id"`
	Status            string    `json:"status"` // "idle" or "working"
	CurrentSessionID  string    `json:"current_session_id,omitempty"`
	SessionsProcessed int       `json:"sessions_processed"`
	LastActivity      time.Time `json:"last_activity"`
}
