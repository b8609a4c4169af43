package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// auditLogHandler handles GET /audit/log.
// Filters: event_type, stage, simulation_id, persona, since, until (RFC3339)
// plus limit/offset paging. All optional.
func (s *Server) auditLogHandler(c *echo.Context) error {
	input := services.AuditQueryInput{
		EventType:    c.QueryParam("event_type"),
		SimulationID: c.QueryParam("simulation_id"),
		Persona:      c.QueryParam("persona"),
	}

	if v := c.QueryParam("stage"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid stage: must be an integer")
		}
		input.Stage = &n
	}
	if v := c.QueryParam("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		input.Since = ts
	}
	if v := c.QueryParam("until"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid until: must be RFC3339")
		}
		input.Until = ts
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit: must be a non-negative integer")
		}
		input.Limit = n
	}
	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid offset: must be a non-negative integer")
		}
		input.Offset = n
	}

	entries := s.trail.Query(input)
	return c.JSON(http.StatusOK, &AuditLogResponse{
		OK:      true,
		Count:   len(entries),
		Entries: entries,
	})
}

// auditBundleHandler handles GET /audit/bundle.
// ?simulation_id= narrows the export; ?since= (RFC3339) drops older entries.
func (s *Server) auditBundleHandler(c *echo.Context) error {
	var since time.Time
	if v := c.QueryParam("since"); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid since: must be RFC3339")
		}
		since = ts
	}

	bundle := s.trail.Bundle(c.QueryParam("simulation_id"), since)
	return c.JSON(http.StatusOK, &AuditBundleResponse{OK: true, Bundle: bundle})
}

// auditVerifyHandler handles GET /audit/verify.
func (s *Server) auditVerifyHandler(c *echo.Context) error {
	report := s.trail.Verify()
	return c.JSON(http.StatusOK, &AuditVerifyResponse{OK: true, ChainReport: report})
}
