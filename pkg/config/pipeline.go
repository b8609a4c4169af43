package config

import "time"

// PipelineConfig tunes the stage loop.
type PipelineConfig struct {
	// MaxSimulationTime is the wall-clock budget per session. The loop
	// checks it before each stage, never mid-stage.
	MaxSimulationTime Duration `yaml:"max_simulation_time"`

	// ConfidenceThreshold is the completion bar: a non-escalating stage
	// result at or above it ends the run.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxStages caps how many stages a run may execute, 1..10.
	MaxStages int `yaml:"max_stages"`
}

// DefaultPipelineConfig returns the built-in pipeline defaults.
func DefaultPipelineConfig() *PipelineConfig {
	return &PipelineConfig{
		MaxSimulationTime:   Duration(300 * time.Second),
		ConfidenceThreshold: 0.995,
		MaxStages:           10,
	}
}
