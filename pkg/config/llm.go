package config

// LLMConfig selects the optional language-model provider. With no provider
// configured the engine runs on its deterministic fallback and every stage
// still works.
type LLMConfig struct {
	// Provider is "anthropic" or "none". Empty means none.
	Provider string `yaml:"provider"`

	// APIKey is the provider key. Reference the environment in the YAML
	// ("${ANTHROPIC_API_KEY}") rather than committing the literal value.
	APIKey string `yaml:"api_key"`

	// Model, MaxTokens and Temperature pass through to the provider; zero
	// values use the provider's own defaults.
	Model       string  `yaml:"model"`
	MaxTokens   int64   `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	// Timeout bounds each generation call.
	Timeout Duration `yaml:"timeout"`
}

// DefaultLLMConfig returns the built-in LLM defaults: no provider.
func DefaultLLMConfig() *LLMConfig {
	return &LLMConfig{}
}
