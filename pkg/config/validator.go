package config

import (
	"fmt"
)

// maxStageNumber mirrors the pipeline's highest stage; config stays
// import-free of the engine packages.
const maxStageNumber = 10

// Validator checks a loaded configuration tree, failing fast with
// field-qualified messages.
type Validator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every section, stopping at the first error.
func (v *Validator) ValidateAll() error {
	if err := v.validateServer(); err != nil {
		return err
	}
	if err := v.validatePipeline(); err != nil {
		return err
	}
	if err := v.validateCompliance(); err != nil {
		return err
	}
	if err := v.validatePlugins(); err != nil {
		return err
	}
	if err := v.validateLLM(); err != nil {
		return err
	}
	if err := v.validateQueue(); err != nil {
		return err
	}
	if err := v.validateRetention(); err != nil {
		return err
	}
	return v.validateLogging()
}

func (v *Validator) validateServer() error {
	s := v.cfg.Server
	if s.Port < 1 || s.Port > 65535 {
		return NewValidationError("server", "port",
			fmt.Errorf("%w: %d outside 1..65535", ErrInvalidValue, s.Port))
	}
	if s.ShutdownTimeout <= 0 {
		return NewValidationError("server", "shutdown_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePipeline() error {
	p := v.cfg.Pipeline
	if p.MaxSimulationTime <= 0 {
		return NewValidationError("pipeline", "max_simulation_time",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return NewValidationError("pipeline", "confidence_threshold",
			fmt.Errorf("%w: %v outside (0, 1]", ErrInvalidValue, p.ConfidenceThreshold))
	}
	if p.MaxStages < 1 || p.MaxStages > maxStageNumber {
		return NewValidationError("pipeline", "max_stages",
			fmt.Errorf("%w: %d outside 1..%d", ErrInvalidValue, p.MaxStages, maxStageNumber))
	}
	return nil
}

func (v *Validator) validateCompliance() error {
	if v.cfg.Compliance.CriticalThreshold < 1 {
		return NewValidationError("compliance", "critical_threshold",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validatePlugins() error {
	p := v.cfg.Plugins
	if p.CallTimeout <= 0 {
		return NewValidationError("plugins", "call_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}

	seen := make(map[int]bool, len(p.StagePlans))
	for i, entry := range p.StagePlans {
		field := fmt.Sprintf("stage_plans[%d]", i)
		if entry.Stage < 1 || entry.Stage > maxStageNumber {
			return NewValidationError("plugins", field+".stage",
				fmt.Errorf("%w: %d outside 1..%d", ErrInvalidValue, entry.Stage, maxStageNumber))
		}
		if seen[entry.Stage] {
			return NewValidationError("plugins", field+".stage",
				fmt.Errorf("%w: duplicate plan for stage %d", ErrInvalidValue, entry.Stage))
		}
		seen[entry.Stage] = true

		switch entry.Policy {
		case "", "priority", "fanout":
		default:
			return NewValidationError("plugins", field+".policy",
				fmt.Errorf("%w: %q is not priority or fanout", ErrInvalidValue, entry.Policy))
		}

		if len(entry.KAs) == 0 {
			return NewValidationError("plugins", field+".kas",
				fmt.Errorf("%w: at least one binding required", ErrMissingRequiredField))
		}
		for j, binding := range entry.KAs {
			if binding.KA == "" {
				return NewValidationError("plugins", fmt.Sprintf("%s.kas[%d].ka", field, j),
					fmt.Errorf("%w: plugin name", ErrMissingRequiredField))
			}
		}
	}
	return nil
}

func (v *Validator) validateLLM() error {
	l := v.cfg.LLM
	switch l.Provider {
	case "", "none", "anthropic":
	default:
		return NewValidationError("llm", "provider",
			fmt.Errorf("%w: %q is not anthropic or none", ErrInvalidValue, l.Provider))
	}
	if l.MaxTokens < 0 {
		return NewValidationError("llm", "max_tokens",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if l.Temperature < 0 || l.Temperature > 1 {
		return NewValidationError("llm", "temperature",
			fmt.Errorf("%w: %v outside [0, 1]", ErrInvalidValue, l.Temperature))
	}
	if l.Timeout < 0 {
		return NewValidationError("llm", "timeout",
			fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateQueue() error {
	q := v.cfg.Queue
	if q.Workers < 1 {
		return NewValidationError("queue", "workers",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.QueueSize < 1 {
		return NewValidationError("queue", "queue_size",
			fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if q.SessionTimeout <= 0 {
		return NewValidationError("queue", "session_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if q.GracefulShutdownTimeout <= 0 {
		return NewValidationError("queue", "graceful_shutdown_timeout",
			fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateRetention() error {
	r := v.cfg.Retention
	for field, d := range map[string]Duration{
		"session_ttl":       r.SessionTTL,
		"agent_idle_after":  r.AgentIdleAfter,
		"ws_client_max_age": r.WSClientMaxAge,
		"sweep_interval":    r.SweepInterval,
	} {
		if d <= 0 {
			return NewValidationError("retention", field,
				fmt.Errorf("%w: must be positive", ErrInvalidValue))
		}
	}
	return nil
}

func (v *Validator) validateLogging() error {
	l := v.cfg.Logging
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		return NewValidationError("logging", "level",
			fmt.Errorf("%w: %q is not debug, info, warn or error", ErrInvalidValue, l.Level))
	}
	switch l.Format {
	case "text", "json":
	default:
		return NewValidationError("logging", "format",
			fmt.Errorf("%w: %q is not text or json", ErrInvalidValue, l.Format))
	}
	return nil
}
