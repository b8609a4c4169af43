package api

import (
	"net/http"
	"strconv"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// complianceStatusHandler handles GET /compliance/status.
func (s *Server) complianceStatusHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &ComplianceStatusResponse{
		OK:           true,
		StatusReport: s.compliance.Status(),
	})
}

// listViolationsHandler handles GET /compliance/violations.
func (s *Server) listViolationsHandler(c *echo.Context) error {
	input := services.ViolationQueryInput{
		Type:         c.QueryParam("type"),
		Severity:     c.QueryParam("severity"),
		SimulationID: c.QueryParam("simulation_id"),
	}

	if raw := c.QueryParam("stage"); raw != "" {
		stage, err := strconv.Atoi(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid stage: must be an integer")
		}
		input.Stage = &stage
	}
	if raw := c.QueryParam("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid resolved: must be a boolean")
		}
		input.Resolved = &resolved
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		input.Limit = limit
	}

	violations := s.compliance.Violations(input)
	return c.JSON(http.StatusOK, &ViolationListResponse{
		OK:         true,
		Count:      len(violations),
		Violations: violations,
	})
}

// resolveViolationHandler handles POST /compliance/resolve/:id.
func (s *Server) resolveViolationHandler(c *echo.Context) error {
	violationID := c.Param("id")
	if violationID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "violation id is required")
	}
	var req ResolveViolationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.compliance.Resolve(violationID, req.Note); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AckResponse{OK: true, Message: "violation resolved"})
}

// resetContainmentHandler handles POST /compliance/reset. Containment is a
// latch: once tripped, only an explicit operator reset lifts it.
func (s *Server) resetContainmentHandler(c *echo.Context) error {
	var req ResetContainmentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.compliance.ResetContainment(req.Reason); err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &AckResponse{OK: true, Message: "containment reset"})
}
