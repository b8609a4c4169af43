// Strata simulation engine server — exposes the HTTP API, runs the queue
// workers and drives multi-stage simulation sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/api"
	"github.com/strata-sim/strata/pkg/audit"
	"github.com/strata-sim/strata/pkg/cleanup"
	"github.com/strata-sim/strata/pkg/compliance"
	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/events"
	"github.com/strata-sim/strata/pkg/ka"
	"github.com/strata-sim/strata/pkg/llm"
	"github.com/strata-sim/strata/pkg/masking"
	"github.com/strata-sim/strata/pkg/memory"
	"github.com/strata-sim/strata/pkg/metrics"
	"github.com/strata-sim/strata/pkg/pipeline"
	"github.com/strata-sim/strata/pkg/queue"
	"github.com/strata-sim/strata/pkg/services"
	"github.com/strata-sim/strata/pkg/session"
	"github.com/strata-sim/strata/pkg/stages"
	"github.com/strata-sim/strata/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// setupLogging installs the slog handler selected by the logging section.
func setupLogging(cfg *config.LoggingConfig) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// planEntries converts the config stage-plan shape into registry bindings.
func planEntries(entries []config.StagePlanEntry) []ka.PlanEntry {
	out := make([]ka.PlanEntry, 0, len(entries))
	for _, entry := range entries {
		bindings := make([]ka.Binding, 0, len(entry.KAs))
		for _, b := range entry.KAs {
			bindings = append(bindings, ka.Binding{KA: b.KA, Priority: b.Priority})
		}
		out = append(out, ka.PlanEntry{
			Stage:    entry.Stage,
			Policy:   ka.Policy(entry.Policy),
			Bindings: bindings,
		})
	}
	return out
}

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	ctx := context.Background()

	// 1. Initialize configuration. A missing strata.yaml is not fatal:
	// the engine runs entirely in memory and the built-in defaults are
	// complete.
	usedDefaults := false
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		if !errors.Is(err, config.ErrConfigNotFound) {
			slog.Error("Failed to initialize configuration", "error", err)
			os.Exit(1)
		}
		slog.Warn("No strata.yaml found, running on built-in defaults", "config_dir", *configDir)
		cfg = config.Default()
		usedDefaults = true
	}
	setupLogging(cfg.Logging)

	slog.Info("Starting strata",
		"version", version.Full(),
		"listen_addr", cfg.Server.Addr(),
		"config_dir", *configDir)

	// 2. Audit trail with secret masking
	var redactor *masking.Redactor
	if cfg.Audit.MaskingEnabled() {
		redactor = masking.NewRedactor()
	}
	trail := audit.New(audit.Options{
		Chain:    cfg.Audit.ChainEnabled(),
		Redactor: redactor,
	})

	// 3. Core stores and the compliance engine
	sessions := session.NewStore()
	graph := memory.NewGraph()
	engine := compliance.NewEngine(compliance.Options{
		CriticalThreshold: cfg.Compliance.CriticalThreshold,
		Trail:             trail,
	})

	// 4. Event hub for WebSocket streaming
	hub := events.NewHub(events.HubOptions{Sessions: sessions})
	publisher := events.NewPublisher(hub)

	// 5. Degraded-mode warnings and the LLM client
	warningsService := services.NewSystemWarningsService()
	if usedDefaults {
		warningsService.AddWarning(services.WarningCategoryConfig,
			"configuration file not found, running on built-in defaults",
			filepath.Join(*configDir, "strata.yaml"), "config-loader")
	}

	llmClient := llm.FromConfig(llm.Config{
		Provider:    cfg.LLM.Provider,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Timeout:     time.Duration(cfg.LLM.Timeout),
	})
	if cfg.LLM.Provider != "" && cfg.LLM.Provider != "none" && llmClient.Name() != cfg.LLM.Provider {
		warningsService.AddWarning(services.WarningCategoryLLMFallback,
			"configured LLM provider is unavailable, using the deterministic fallback",
			cfg.LLM.Provider, "llm")
	}

	// 6. Persona agents
	mgr := agents.NewManager(agents.ManagerOptions{Enrich: llmClient, Trail: trail})

	// 7. Prometheus collectors, polling the live stores at scrape time
	m := metrics.New(metrics.Options{
		WSClients:      hub.ActiveClients,
		ActiveAgents:   func() int { return mgr.Stats().Active },
		ActiveSessions: sessions.CountActive,
	})

	// 8. Knowledge-algorithm registry, stage plan and hot-reload watcher
	registry := ka.NewRegistry(ka.RegistryOptions{
		Dir:         cfg.Plugins.Dir,
		CallTimeout: time.Duration(cfg.Plugins.CallTimeout),
		Trail:       trail,
		Observe:     m.RecordKACall,
	})
	if names, err := registry.LoadAll(); err != nil {
		slog.Warn("Knowledge algorithms unavailable", "dir", cfg.Plugins.Dir, "error", err)
		warningsService.AddWarning(services.WarningCategoryPlugins,
			"knowledge algorithm plugins failed to load",
			err.Error(), "ka-registry")
	} else {
		slog.Info("Knowledge algorithms loaded", "count", len(names), "dir", cfg.Plugins.Dir)
	}
	plan := ka.NewStagePlan(planEntries(cfg.Plugins.StagePlans))

	if cfg.Plugins.WatchEnabled() {
		watcher, err := ka.NewWatcher(registry, publisher.PluginLoaded)
		if err == nil {
			err = watcher.Start()
		}
		if err != nil {
			slog.Warn("Plugin hot-reload disabled", "error", err)
			warningsService.AddWarning(services.WarningCategoryPlugins,
				"plugin hot-reload watcher failed to start",
				err.Error(), "ka-watcher")
		} else {
			defer watcher.Stop()
		}
	}

	// 9. Pipeline executor over the ten built-in stages
	executor := pipeline.New(pipeline.Options{
		Sessions:   sessions,
		Stages:     stages.NewDefaultRegistry(),
		Memory:     graph,
		Agents:     mgr,
		KAs:        registry,
		Plan:       plan,
		Compliance: engine,
		Trail:      trail,
		Events:     publisher,
		Metrics:    m,
		LLM:        llmClient,

		MaxSimulationTime:   time.Duration(cfg.Pipeline.MaxSimulationTime),
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		MaxStages:           cfg.Pipeline.MaxStages,
	})

	// 10. Worker pool for async runs (before the HTTP server)
	pool := queue.NewWorkerPool(cfg.Queue, queue.NewPipelineExecutor(executor))
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// 11. Retention sweeper
	cleaner := cleanup.NewService(cfg.Retention, sessions, mgr, hub)
	cleaner.Start(ctx)

	// 12. HTTP server
	httpServer := api.NewServer(cfg.Server,
		services.NewSimulationService(executor, sessions, pool),
		services.NewMemoryService(graph),
		services.NewAuditService(trail),
		services.NewPluginService(registry),
		services.NewComplianceService(engine),
		hub,
	)
	httpServer.SetAgentManager(mgr)
	httpServer.SetWorkerPool(pool)
	httpServer.SetMetrics(m)
	httpServer.SetWarningsService(warningsService)

	// 13. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		addr := cfg.Server.Addr()
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Strata started successfully",
		"workers", cfg.Queue.Workers,
		"plugins", len(registry.Names()),
		"llm_provider", llmClient.Name())

	// 14. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 15. Graceful shutdown: drain the worker pool within its budget, then
	// the sweeper, then the HTTP listener.
	poolShutdownCtx, poolCancel := context.WithTimeout(ctx, time.Duration(cfg.Queue.GracefulShutdownTimeout))
	defer poolCancel()

	done := make(chan struct{})
	go func() {
		pool.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Worker pool stopped gracefully")
	case <-poolShutdownCtx.Done():
		slog.Warn("Shutdown timeout exceeded, abandoning in-flight runs")
	}

	cleaner.Stop()

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeout))
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
