package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/strata-sim/strata/pkg/ka"
)

// PluginInfo is one registry listing row.
type PluginInfo struct {
	Name string         `json:"name"`
	Meta map[string]any `json:"meta"`
}

// RunPluginInput is one manual KA dispatch.
type RunPluginInput struct {
	Name    string
	Input   map[string]any
	Context map[string]any
}

// PluginService manages the KA registry surface.
type PluginService struct {
	registry *ka.Registry
	logger   *slog.Logger
}

// NewPluginService creates a new PluginService.
func NewPluginService(registry *ka.Registry) *PluginService {
	if registry == nil {
		panic("NewPluginService: registry must not be nil")
	}
	return &PluginService{
		registry: registry,
		logger:   slog.With("component", "services"),
	}
}

// Reload rebuilds the plugin table from the plugin directory and returns
// the loaded names, sorted.
func (s *PluginService) Reload() ([]string, error) {
	names, err := s.registry.Reload()
	if err != nil {
		return nil, fmt.Errorf("reloading plugins: %w", err)
	}
	s.logger.Info("Plugin registry reloaded", "plugins", len(names))
	return names, nil
}

// List returns the loaded plugins with their meta, name-sorted.
func (s *PluginService) List() []PluginInfo {
	names := s.registry.Names()
	out := make([]PluginInfo, 0, len(names))
	for _, name := range names {
		meta, _ := s.registry.Meta(name)
		out = append(out, PluginInfo{Name: name, Meta: meta})
	}
	return out
}

// Run dispatches one KA by name. An unknown name is a validation error
// here, unlike the stage-side dispatch path which degrades to the canned
// failure result, so operators can tell a typo from a crashing plugin.
func (s *PluginService) Run(ctx context.Context, input RunPluginInput) (*ka.Result, error) {
	if input.Name == "" {
		return nil, NewValidationError("name", "plugin name is required")
	}
	if _, ok := s.registry.Meta(input.Name); !ok {
		return nil, NewValidationError("name", fmt.Sprintf("unknown plugin '%s'", input.Name))
	}
	return s.registry.Call(ctx, input.Name, input.Input, input.Context), nil
}
