package config

import "time"

// PluginsConfig controls the knowledge-algorithm plugin registry.
type PluginsConfig struct {
	// Dir is the directory scanned for plugin sources. Relative paths
	// resolve against the working directory.
	Dir string `yaml:"dir"`

	// Watch enables the filesystem watcher that hot-reloads the registry
	// when plugin sources change. Unset means enabled.
	Watch *bool `yaml:"watch"`

	// CallTimeout bounds each plugin dispatch.
	CallTimeout Duration `yaml:"call_timeout"`

	// StagePlans binds plugins to pipeline stages. A stage absent from the
	// plan consults no plugins.
	StagePlans []StagePlanEntry `yaml:"stage_plans"`
}

// StagePlanEntry binds one stage to an ordered set of plugins.
type StagePlanEntry struct {
	Stage  int    `yaml:"stage"`
	Policy string `yaml:"policy"`

	KAs []StageBinding `yaml:"kas"`
}

// StageBinding names one plugin inside a stage plan. Higher priority runs
// first under the priority policy.
type StageBinding struct {
	KA       string `yaml:"ka"`
	Priority int    `yaml:"priority"`
}

// DefaultPluginsConfig returns the built-in plugin defaults, including the
// stage plan for the sample plugins shipped under plugins/.
func DefaultPluginsConfig() *PluginsConfig {
	return &PluginsConfig{
		Dir:         "./plugins",
		CallTimeout: Duration(5 * time.Second),
		StagePlans: []StagePlanEntry{
			{Stage: 5, Policy: "priority", KAs: []StageBinding{
				{KA: "branch_projection", Priority: 10},
			}},
			{Stage: 8, Policy: "fanout", KAs: []StageBinding{
				{KA: "emergence_probe", Priority: 10},
			}},
		},
	}
}

// WatchEnabled reports whether the plugin watcher should run.
func (c *PluginsConfig) WatchEnabled() bool {
	return c.Watch == nil || *c.Watch
}
