package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// configFileName is the single configuration file strata reads.
const configFileName = "strata.yaml"

// Initialize loads, merges and validates configuration from configDir.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Read strata.yaml from configDir
//  2. Expand ${ENV_VAR} references inside the raw content
//  3. Parse YAML into the user config tree
//  4. Merge user values over built-in defaults
//  5. Validate every section
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"listen_addr", cfg.Server.Addr(),
		"plugin_dir", cfg.Plugins.Dir,
		"stage_plans", len(cfg.Plugins.StagePlans),
		"llm_provider", providerLabel(cfg.LLM),
		"workers", cfg.Queue.Workers)

	return cfg, nil
}

// load reads and merges without validating.
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{configDir: configDir}

	var user Config
	if err := loader.loadYAML(configFileName, &user); err != nil {
		return nil, NewLoadError(configFileName, err)
	}

	// Merge user values over the built-in defaults. Unset fields keep
	// their defaults; explicit pointer fields (audit.chain, plugins.watch)
	// override even when false.
	cfg := Default()
	cfg.configDir = configDir
	if err := mergo.Merge(cfg, &user, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge configuration over defaults: %w", err)
	}

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration.
func validate(cfg *Config) error {
	return NewValidator(cfg).ValidateAll()
}

func providerLabel(llm *LLMConfig) string {
	if llm.Provider == "" {
		return "none"
	}
	return llm.Provider
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand ${ENV_VAR} references before parsing so expanded values are
	// subject to normal YAML quoting rules.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}
