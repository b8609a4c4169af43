// Package config loads, layers and validates the strata.yaml configuration
// tree. User-provided values are merged over built-in defaults, environment
// references inside string values are expanded, and the result is validated
// before any component sees it.
package config

// Config is the umbrella configuration object returned by Initialize and
// handed to main for component wiring. Every section is non-nil after a
// successful load.
type Config struct {
	configDir string

	Server     *ServerConfig     `yaml:"server"`
	Pipeline   *PipelineConfig   `yaml:"pipeline"`
	Compliance *ComplianceConfig `yaml:"compliance"`
	Plugins    *PluginsConfig    `yaml:"plugins"`
	LLM        *LLMConfig        `yaml:"llm"`
	Queue      *QueueConfig      `yaml:"queue"`
	Retention  *RetentionConfig  `yaml:"retention"`
	Audit      *AuditConfig      `yaml:"audit"`
	Logging    *LoggingConfig    `yaml:"logging"`
}

// ConfigDir returns the directory strata.yaml was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}
