package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/strata-sim/strata/pkg/config"
)

// WorkerPool manages the queue channel and its workers.
type WorkerPool struct {
	cfg      *config.QueueConfig
	executor SimulationExecutor
	queue    chan string
	workers  []*Worker
	stopCh   chan struct{}
	stopOnce sync.Once

	// Run cancel registry: session_id → cancel function.
	mu         sync.RWMutex
	activeRuns map[string]context.CancelFunc
	started    bool
	stopped    bool
}

// NewWorkerPool creates a worker pool with a bounded enqueue buffer.
func NewWorkerPool(cfg *config.QueueConfig, executor SimulationExecutor) *WorkerPool {
	if cfg == nil {
		panic("NewWorkerPool: cfg must not be nil")
	}
	if executor == nil {
		panic("NewWorkerPool: executor must not be nil")
	}
	return &WorkerPool{
		cfg:        cfg,
		executor:   executor,
		queue:      make(chan string, cfg.QueueSize),
		workers:    make([]*Worker, 0, cfg.Workers),
		stopCh:     make(chan struct{}),
		activeRuns: make(map[string]context.CancelFunc),
	}
}

// Start spawns the worker goroutines. It is safe to call multiple times;
// subsequent calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("Worker pool already started, ignoring duplicate Start call")
		return nil
	}
	p.started = true

	slog.Info("Starting worker pool", "workers", p.cfg.Workers, "queue_size", p.cfg.QueueSize)

	for i := 0; i < p.cfg.Workers; i++ {
		worker := NewWorker(fmt.Sprintf("worker-%d", i), p.cfg, p.executor, p, p.queue)
		p.workers = append(p.workers, worker)
		worker.Start(ctx)
	}

	slog.Info("Worker pool started")
	return nil
}

// Stop stops accepting work, cancels in-flight runs and waits for the
// workers to exit. Graceful-shutdown budgeting is the caller's job: main
// races Stop against its shutdown timeout.
func (p *WorkerPool) Stop() {
	slog.Info("Stopping worker pool")

	p.mu.Lock()
	p.stopped = true
	active := make([]string, 0, len(p.activeRuns))
	for id, cancel := range p.activeRuns {
		active = append(active, id)
		cancel()
	}
	p.mu.Unlock()

	if len(active) > 0 {
		slog.Info("Cancelled in-flight runs", "count", len(active), "session_ids", active)
	}

	p.stopOnce.Do(func() { close(p.stopCh) })
	for _, worker := range p.workers {
		worker.Stop()
	}

	slog.Info("Worker pool stopped")
}

// Enqueue hands a session to the pool. A full buffer is reported rather
// than waited out so the API can answer immediately.
func (p *WorkerPool) Enqueue(sessionID string) error {
	p.mu.RLock()
	stopped := p.stopped
	p.mu.RUnlock()
	if stopped {
		return ErrPoolStopped
	}

	select {
	case p.queue <- sessionID:
		return nil
	default:
		return ErrQueueFull
	}
}

// RegisterRun stores a cancel function for manual cancellation.
func (p *WorkerPool) RegisterRun(sessionID string, cancel context.CancelFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.activeRuns[sessionID] = cancel
}

// UnregisterRun removes the cancel function when a run ends.
func (p *WorkerPool) UnregisterRun(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.activeRuns, sessionID)
}

// CancelRun triggers context cancellation for an in-flight run. Returns
// true if the session had a registered run.
func (p *WorkerPool) CancelRun(sessionID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if cancel, ok := p.activeRuns[sessionID]; ok {
		cancel()
		return true
	}
	return false
}

// Health returns the current health status of the pool.
func (p *WorkerPool) Health() *PoolHealth {
	p.mu.RLock()
	activeRuns := len(p.activeRuns)
	stopped := p.stopped
	p.mu.RUnlock()

	workerStats := make([]WorkerHealth, len(p.workers))
	activeWorkers := 0
	processed := 0
	for i, worker := range p.workers {
		stats := worker.Health()
		workerStats[i] = stats
		processed += stats.SessionsProcessed
		if stats.Status == string(WorkerStatusWorking) {
			activeWorkers++
		}
	}

	return &PoolHealth{
		IsHealthy:         !stopped && len(p.workers) > 0,
		ActiveWorkers:     activeWorkers,
		TotalWorkers:      len(p.workers),
		ActiveRuns:        activeRuns,
		QueueDepth:        len(p.queue),
		QueueCapacity:     cap(p.queue),
		SessionsProcessed: processed,
		WorkerStats:       workerStats,
	}
}
