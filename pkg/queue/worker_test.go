package queue

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/pipeline"
	"github.com/strata-sim/strata/pkg/session"
)

func testQueueConfig() *config.QueueConfig {
	return &config.QueueConfig{
		Workers:                 2,
		QueueSize:               8,
		SessionTimeout:          config.Duration(10 * time.Minute),
		GracefulShutdownTimeout: config.Duration(30 * time.Second),
	}
}

// recordingRegistry captures run registration calls.
type recordingRegistry struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
}

func (r *recordingRegistry) RegisterRun(sessionID string, _ context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, sessionID)
}

func (r *recordingRegistry) UnregisterRun(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unregistered = append(r.unregistered, sessionID)
}

// ctxCaptureExecutor records the deadline of the run context.
type ctxCaptureExecutor struct {
	deadline time.Time
	ok       bool
}

func (c *ctxCaptureExecutor) ExecuteSimulation(ctx context.Context, _ string) error {
	c.deadline, c.ok = ctx.Deadline()
	return nil
}

func TestWorkerHealth(t *testing.T) {
	cfg := testQueueConfig()
	w := NewWorker("worker-1", cfg, nil, nil, nil)

	h := w.Health()
	assert.Equal(t, "worker-1", h.ID)
	assert.Equal(t, "idle", h.Status)
	assert.Equal(t, "", h.CurrentSessionID)
	assert.Equal(t, 0, h.SessionsProcessed)

	// Simulate working state
	w.setStatus(WorkerStatusWorking, "session-abc")
	h = w.Health()
	assert.Equal(t, "working", h.Status)
	assert.Equal(t, "session-abc", h.CurrentSessionID)

	// Back to idle
	w.setStatus(WorkerStatusIdle, "")
	w.incrementProcessed()
	h = w.Health()
	assert.Equal(t, "idle", h.Status)
	assert.Equal(t, "", h.CurrentSessionID)
	assert.Equal(t, 1, h.SessionsProcessed)
}

func TestWorkerProcessRegistersRun(t *testing.T) {
	exec := newStubExecutor()
	reg := &recordingRegistry{}
	w := NewWorker("worker-1", testQueueConfig(), exec, reg, nil)

	w.process(context.Background(), "s-1", slog.With("worker_id", "worker-1"))

	assert.Equal(t, []string{"s-1"}, reg.registered)
	assert.Equal(t, []string{"s-1"}, reg.unregistered)

	h := w.Health()
	assert.Equal(t, "idle", h.Status)
	assert.Equal(t, 1, h.SessionsProcessed)
}

func TestWorkerAppliesSessionTimeout(t *testing.T) {
	cfg := testQueueConfig()
	cfg.SessionTimeout = config.Duration(time.Minute)
	exec := &ctxCaptureExecutor{}
	w := NewWorker("worker-1", cfg, exec, &recordingRegistry{}, nil)

	w.process(context.Background(), "s-1", slog.With("worker_id", "worker-1"))

	require.True(t, exec.ok, "run context should carry a deadline")
	assert.WithinDuration(t, time.Now().Add(time.Minute), exec.deadline, 5*time.Second)
}

func TestWorkerTreatsStaleSessionsAsSkips(t *testing.T) {
	exec := newStubExecutor()
	exec.errs["gone"] = session.ErrNotFound
	exec.errs["terminal"] = session.ErrTerminal
	exec.errs["running"] = pipeline.ErrSessionRunning
	exec.errs["paused"] = pipeline.ErrNotReady

	w := NewWorker("worker-1", testQueueConfig(), exec, &recordingRegistry{}, nil)
	log := slog.With("worker_id", "worker-1")

	for _, id := range []string{"gone", "terminal", "running", "paused"} {
		assert.NotPanics(t, func() { w.process(context.Background(), id, log) })
	}
	assert.Equal(t, 4, w.Health().SessionsProcessed)
}

func TestWorkerDrainsQueueUntilStopped(t *testing.T) {
	exec := newStubExecutor()
	queue := make(chan string, 4)
	w := NewWorker("worker-1", testQueueConfig(), exec, &recordingRegistry{}, queue)
	w.Start(context.Background())

	queue <- "s-1"
	queue <- "s-2"

	ids := exec.waitFor(t, 2)
	assert.ElementsMatch(t, []string{"s-1", "s-2"}, ids)

	w.Stop()

	h := w.Health()
	assert.Equal(t, "idle", h.Status)
	assert.Equal(t, 2, h.SessionsProcessed)
}

func TestWorkerStopTwiceDoesNotPanic(t *testing.T) {
	w := NewWorker("worker-1", testQueueConfig(), newStubExecutor(), &recordingRegistry{}, make(chan string))
	w.Start(context.Background())

	w.Stop()
	assert.NotPanics(t, func() { w.Stop() })
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker("worker-1", testQueueConfig(), newStubExecutor(), &recordingRegistry{}, make(chan string))
	w.Start(ctx)

	cancel()

	stopped := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not exit on context cancellation")
	}
}
