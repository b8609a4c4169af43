package api

import (
	"fmt"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/agents"
	"github.com/strata-sim/strata/pkg/services"
	"github.com/strata-sim/strata/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthzHandler handles GET /healthz.
// Only the engine's own components are checked: the audit chain and the
// worker pool. External dependencies (LLM providers) are excluded so an
// upstream outage cannot make an orchestrator restart the engine.
func (s *Server) healthzHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	report := s.trail.Verify()
	if !report.Valid {
		status = healthStatusUnhealthy
		checks["audit"] = HealthCheck{
			Status:  healthStatusUnhealthy,
			Message: fmt.Sprintf("hash chain broken at entry %d", report.BrokenAt),
		}
	} else {
		checks["audit"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.pool != nil {
		poolHealth := s.pool.Health()
		if poolHealth != nil && !poolHealth.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: "no active workers"}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	return c.JSON(httpStatus, &HealthResponse{
		OK:      httpStatus == http.StatusOK,
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}

// versionHandler handles GET /version.
func (s *Server) versionHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &VersionResponse{
		OK:      true,
		App:     version.AppName,
		Version: version.GitCommit,
	})
}

// agentStatsHandler handles GET /agents/stats. Without an attached manager
// the counters are simply all zero.
func (s *Server) agentStatsHandler(c *echo.Context) error {
	stats := &agents.Stats{}
	if s.agents != nil {
		stats = s.agents.Stats()
	}
	return c.JSON(http.StatusOK, &AgentStatsResponse{OK: true, Stats: stats})
}

// systemWarningsHandler handles GET /system/warnings.
func (s *Server) systemWarningsHandler(c *echo.Context) error {
	response := &SystemWarningsResponse{
		OK:       true,
		Warnings: []*services.SystemWarning{},
	}
	if s.warnings != nil {
		response.Warnings = s.warnings.GetWarnings()
	}
	return c.JSON(http.StatusOK, response)
}

// metricsHandler handles GET /metrics. The Prometheus handler writes the
// exposition format itself, outside the JSON envelope.
func (s *Server) metricsHandler(c *echo.Context) error {
	if s.metrics == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "metrics are not enabled")
	}
	return wrapHTTP(s.metrics.Handler())(c)
}

// wrapHTTP adapts a plain http.Handler to an echo handler.
func wrapHTTP(h http.Handler) echo.HandlerFunc {
	return func(c *echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
