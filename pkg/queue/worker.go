package queue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/pipeline"
	"github.com/strata-sim/strata/pkg/session"
)

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

// Worker status constants.
const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// RunRegistry is the subset of WorkerPool used by Worker for run
// registration.
type RunRegistry interface {
	RegisterRun(sessionID string, cancel context.CancelFunc)
	UnregisterRun(sessionID string)
}

// Worker drains the queue channel and executes one session at a time.
type Worker struct {
	id       string
	cfg      *config.QueueConfig
	executor SimulationExecutor
	pool     RunRegistry
	queue    <-chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Health tracking
	mu                sync.RWMutex
	status            WorkerStatus
	currentSessionID  string
	sessionsProcessed int
	lastActivity      time.Time
}

// NewWorker creates a queue worker reading from the shared channel.
func NewWorker(id string, cfg *config.QueueConfig, executor SimulationExecutor, pool RunRegistry, queue <-chan string) *Worker {
	return &Worker{
		id:           id,
		cfg:          cfg,
		executor:     executor,
		pool:         pool,
		queue:        queue,
		stopCh:       make(chan struct{}),
		status:       WorkerStatusIdle,
		lastActivity: time.Now(),
	}
}

// Start begins the worker loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for it to finish its current
// run. It is safe to call Stop multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health returns the current worker health status.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            string(w.status),
		CurrentSessionID:  w.currentSessionID,
		SessionsProcessed: w.sessionsProcessed,
		LastActivity:      w.lastActivity,
	}
}

// run is the main worker loop.
func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("component", "queue", "worker_id", w.id)
	log.Info("Worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("Worker shutting down")
			return
		case <-ctx.Done():
			log.Info("Context cancelled, worker shutting down")
			return
		case sessionID := <-w.queue:
			w.process(ctx, sessionID, log)
		}
	}
}

// process runs one session under the configured timeout, keeping the
// cancel handle registered for the duration so /contain and shutdown can
// interrupt it.
func (w *Worker) process(ctx context.Context, sessionID string, log *slog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(w.cfg.SessionTimeout))
	defer cancel()

	w.pool.RegisterRun(sessionID, cancel)
	defer w.pool.UnregisterRun(sessionID)

	w.setStatus(WorkerStatusWorking, sessionID)
	defer func() {
		w.setStatus(WorkerStatusIdle, "")
		w.incrementProcessed()
	}()

	log.Info("Session dequeued", "session_id", sessionID)

	err := w.executor.ExecuteSimulation(runCtx, sessionID)
	switch {
	case err == nil:
		log.Info("Session run finished", "session_id", sessionID)
	case errors.Is(err, session.ErrTerminal),
		errors.Is(err, pipeline.ErrSessionRunning),
		errors.Is(err, pipeline.ErrNotReady):
		// The session moved on before we got to it; nothing to do.
		log.Info("Session no longer runnable, skipping", "session_id", sessionID, "reason", err)
	case errors.Is(err, session.ErrNotFound):
		log.Warn("Session vanished from the store before execution", "session_id", sessionID)
	default:
		log.Error("Session run failed", "session_id", sessionID, "error", err)
	}
}

func (w *Worker) setStatus(status WorkerStatus, sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSessionID = sessionID
	w.lastActivity = time.Now()
}

func (w *Worker) incrementProcessed() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionsProcessed++
}
