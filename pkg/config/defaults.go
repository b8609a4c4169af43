package config

// Default returns the complete built-in configuration. Initialize merges
// the user's strata.yaml over this tree; callers running without a config
// file can use it directly.
func Default() *Config {
	return &Config{
		Server:     DefaultServerConfig(),
		Pipeline:   DefaultPipelineConfig(),
		Compliance: DefaultComplianceConfig(),
		Plugins:    DefaultPluginsConfig(),
		LLM:        DefaultLLMConfig(),
		Queue:      DefaultQueueConfig(),
		Retention:  DefaultRetentionConfig(),
		Audit:      DefaultAuditConfig(),
		Logging:    DefaultLoggingConfig(),
	}
}
