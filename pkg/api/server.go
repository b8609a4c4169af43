// Package api exposes the simulation engine over HTTP. Every endpoint
// answers with the {ok:true,...} / {ok:false,error:{kind,message}} envelope;
// service sentinels map onto the envelope kinds in mapServiceError.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/config"
	"github.com/strata-sim/strata/pkg/events"
	"github.com/strata-sim/strata/pkg/metrics"
	"github.com/strata-sim/strata/pkg/queue"
	"github.com/strata-sim/strata/pkg/services"
)

// Server is the HTTP front of the engine. One instance per process.
type Server struct {
	cfg  *config.ServerConfig
	echo *echo.Echo
	http *http.Server

	simulations *services.SimulationService
	memory      *services.MemoryService
	trail       *services.AuditService
	plugins     *services.PluginService
	compliance  *services.ComplianceService
	hub         *events.Hub

	// Optional collaborators, attached with the Set* methods before Start.
	agents   *agents.Manager
	pool     *queue.WorkerPool
	metrics  *metrics.Metrics
	warnings *services.SystemWarningsService

	logger *slog.Logger
}

// NewServer assembles the routing tree over the given services. A nil cfg
// selects the built-in server defaults.
func NewServer(
	cfg *config.ServerConfig,
	simulations *services.SimulationService,
	memorySvc *services.MemoryService,
	auditSvc *services.AuditService,
	plugins *services.PluginService,
	complianceSvc *services.ComplianceService,
	hub *events.Hub,
) *Server {
	if simulations == nil || memorySvc == nil || auditSvc == nil || plugins == nil || complianceSvc == nil {
		panic("NewServer: all services must be non-nil")
	}
	if cfg == nil {
		cfg = config.DefaultServerConfig()
	}

	s := &Server{
		cfg:         cfg,
		simulations: simulations,
		memory:      memorySvc,
		trail:       auditSvc,
		plugins:     plugins,
		compliance:  complianceSvc,
		hub:         hub,
		logger:      slog.With("component", "api"),
	}

	e := echo.New()
	e.Use(securityHeaders())
	e.Use(s.errorEnvelope())
	s.registerRoutes(e)
	s.echo = e
	s.http = &http.Server{
		Handler:           e,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetAgentManager attaches the agent manager behind GET /agents/stats.
func (s *Server) SetAgentManager(m *agents.Manager) { s.agents = m }

// SetWorkerPool attaches the pool probed by GET /healthz.
func (s *Server) SetWorkerPool(p *queue.WorkerPool) { s.pool = p }

// SetMetrics attaches the Prometheus registry behind GET /metrics.
func (s *Server) SetMetrics(m *metrics.Metrics) { s.metrics = m }

// SetWarningsService attaches the degraded-mode warnings behind
// GET /system/warnings.
func (s *Server) SetWarningsService(w *services.SystemWarningsService) { s.warnings = w }

func (s *Server) registerRoutes(e *echo.Echo) {
	// Simulation lifecycle
	e.POST("/simulation/start", s.startSimulationHandler)
	e.POST("/simulation/step/:id", s.stepSimulationHandler)
	e.GET("/simulation/session/:id", s.getSessionHandler)
	e.GET("/simulation/sessions", s.listSessionsHandler)
	e.POST("/simulation/pause/:id", s.pauseSimulationHandler)
	e.POST("/simulation/resume/:id", s.resumeSimulationHandler)
	e.POST("/simulation/contain/:id", s.containSimulationHandler)

	// Memory graph
	e.GET("/memory/cell", s.getMemoryCellHandler)
	e.POST("/memory/patch", s.patchMemoryHandler)
	e.GET("/memory/ancestry/:id", s.memoryAncestryHandler)
	e.GET("/memory/stats", s.memoryStatsHandler)

	// Audit trail
	e.GET("/audit/log", s.auditLogHandler)
	e.GET("/audit/bundle", s.auditBundleHandler)
	e.GET("/audit/verify", s.auditVerifyHandler)

	// KA plugins
	e.POST("/plugin/ka/reload", s.reloadPluginsHandler)
	e.GET("/plugin/ka/list", s.listPluginsHandler)
	e.POST("/plugin/ka/run/:name", s.runPluginHandler)

	// Compliance
	e.GET("/compliance/status", s.complianceStatusHandler)
	e.GET("/compliance/violations", s.listViolationsHandler)
	e.POST("/compliance/resolve/:id", s.resolveViolationHandler)
	e.POST("/compliance/reset", s.resetContainmentHandler)

	// Streaming and operational
	e.GET("/ws/simulation/:id", s.wsHandler)
	e.GET("/agents/stats", s.agentStatsHandler)
	e.GET("/system/warnings", s.systemWarningsHandler)
	e.GET("/healthz", s.healthzHandler)
	e.GET("/version", s.versionHandler)
	e.GET("/metrics", s.metricsHandler)
}

// Start serves HTTP on addr and blocks until Shutdown or a listener error.
func (s *Server) Start(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routing tree, mainly for httptest servers.
func (s *Server) Handler() http.Handler { return s.echo }
