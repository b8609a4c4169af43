package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAllAcceptsDefaults(t *testing.T) {
	require.NoError(t, NewValidator(Default()).ValidateAll())
}

func TestValidateAll(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		section string
		field   string
	}{
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			section: "server",
			field:   "port",
		},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			section: "server",
			field:   "port",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *Config) { c.Server.ShutdownTimeout = 0 },
			section: "server",
			field:   "shutdown_timeout",
		},
		{
			name:    "zero simulation budget",
			mutate:  func(c *Config) { c.Pipeline.MaxSimulationTime = 0 },
			section: "pipeline",
			field:   "max_simulation_time",
		},
		{
			name:    "confidence threshold above one",
			mutate:  func(c *Config) { c.Pipeline.ConfidenceThreshold = 1.5 },
			section: "pipeline",
			field:   "confidence_threshold",
		},
		{
			name:    "max stages above pipeline length",
			mutate:  func(c *Config) { c.Pipeline.MaxStages = 11 },
			section: "pipeline",
			field:   "max_stages",
		},
		{
			name:    "critical threshold below one",
			mutate:  func(c *Config) { c.Compliance.CriticalThreshold = 0 },
			section: "compliance",
			field:   "critical_threshold",
		},
		{
			name:    "zero plugin call timeout",
			mutate:  func(c *Config) { c.Plugins.CallTimeout = 0 },
			section: "plugins",
			field:   "call_timeout",
		},
		{
			name: "stage plan out of range",
			mutate: func(c *Config) {
				c.Plugins.StagePlans = []StagePlanEntry{
					{Stage: 11, KAs: []StageBinding{{KA: "x"}}},
				}
			},
			section: "plugins",
			field:   "stage_plans[0].stage",
		},
		{
			name: "duplicate stage plan",
			mutate: func(c *Config) {
				c.Plugins.StagePlans = []StagePlanEntry{
					{Stage: 5, KAs: []StageBinding{{KA: "x"}}},
					{Stage: 5, KAs: []StageBinding{{KA: "y"}}},
				}
			},
			section: "plugins",
			field:   "stage_plans[1].stage",
		},
		{
			name: "unknown plan policy",
			mutate: func(c *Config) {
				c.Plugins.StagePlans = []StagePlanEntry{
					{Stage: 5, Policy: "vote", KAs: []StageBinding{{KA: "x"}}},
				}
			},
			section: "plugins",
			field:   "stage_plans[0].policy",
		},
		{
			name: "plan without bindings",
			mutate: func(c *Config) {
				c.Plugins.StagePlans = []StagePlanEntry{{Stage: 5, Policy: "priority"}}
			},
			section: "plugins",
			field:   "stage_plans[0].kas",
		},
		{
			name: "binding without name",
			mutate: func(c *Config) {
				c.Plugins.StagePlans = []StagePlanEntry{
					{Stage: 5, KAs: []StageBinding{{Priority: 1}}},
				}
			},
			section: "plugins",
			field:   "stage_plans[0].kas[0].ka",
		},
		{
			name:    "unknown llm provider",
			mutate:  func(c *Config) { c.LLM.Provider = "openai" },
			section: "llm",
			field:   "provider",
		},
		{
			name:    "negative temperature",
			mutate:  func(c *Config) { c.LLM.Temperature = -0.1 },
			section: "llm",
			field:   "temperature",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Queue.Workers = 0 },
			section: "queue",
			field:   "workers",
		},
		{
			name:    "zero queue size",
			mutate:  func(c *Config) { c.Queue.QueueSize = 0 },
			section: "queue",
			field:   "queue_size",
		},
		{
			name:    "zero session timeout",
			mutate:  func(c *Config) { c.Queue.SessionTimeout = 0 },
			section: "queue",
			field:   "session_timeout",
		},
		{
			name:    "zero session ttl",
			mutate:  func(c *Config) { c.Retention.SessionTTL = 0 },
			section: "retention",
			field:   "session_ttl",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			section: "logging",
			field:   "level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.Format = "logfmt" },
			section: "logging",
			field:   "format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := NewValidator(cfg).ValidateAll()
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.section, vErr.Section)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestValidateAcceptsFanoutPolicyAndEmptyPolicy(t *testing.T) {
	cfg := Default()
	cfg.Plugins.StagePlans = []StagePlanEntry{
		{Stage: 2, Policy: "", KAs: []StageBinding{{KA: "a"}}},
		{Stage: 8, Policy: "fanout", KAs: []StageBinding{{KA: "b"}, {KA: "c"}}},
	}
	assert.NoError(t, NewValidator(cfg).ValidateAll())
}
