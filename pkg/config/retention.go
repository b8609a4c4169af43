package config

import "time"

// RetentionConfig controls the cleanup sweeper.
type RetentionConfig struct {
	// SessionTTL is how long terminal sessions are kept before deletion.
	SessionTTL Duration `yaml:"session_ttl"`

	// AgentIdleAfter is how long an agent may sit idle before the sweeper
	// deactivates it.
	AgentIdleAfter Duration `yaml:"agent_idle_after"`

	// WSClientMaxAge is how long a WebSocket client may go without a
	// heartbeat before it is disconnected.
	WSClientMaxAge Duration `yaml:"ws_client_max_age"`

	// SweepInterval is how often the cleanup loop runs.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SessionTTL:     Duration(24 * time.Hour),
		AgentIdleAfter: Duration(30 * time.Minute),
		WSClientMaxAge: Duration(2 * time.Minute),
		SweepInterval:  Duration(10 * time.Minute),
	}
}
