package queue

import (
	"context"

	"github.com/strata-sim/strata/pkg/pipeline"
)

// PipelineExecutor adapts the stage loop to the worker pool. The run
// result is discarded here: the session store carries every outcome the
// API can ask for.
type PipelineExecutor struct {
	exec *pipeline.Executor
}

// NewPipelineExecutor wraps the pipeline executor for async runs.
func NewPipelineExecutor(exec *pipeline.Executor) *PipelineExecutor {
	if exec == nil {
		panic("NewPipelineExecutor: exec must not be nil")
	}
	return &PipelineExecutor{exec: exec}
}

// ExecuteSimulation implements SimulationExecutor.
func (e *PipelineExecutor) ExecuteSimulation(ctx context.Context, sessionID string) error {
	_, err := e.exec.RunSession(ctx, sessionID, pipeline.Request{})
	return err
}
