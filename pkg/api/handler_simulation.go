package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// startSimulationHandler handles POST /simulation/start.
// Auto mode runs the pipeline synchronously and returns the full result;
// async enqueues and returns 202; step creates a READY session to be
// advanced with POST /simulation/step/:id.
func (s *Server) startSimulationHandler(c *echo.Context) error {
	var req StartSimulationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	query := req.Prompt
	if query == "" {
		query = req.Query
	}

	out, err := s.simulations.StartSimulation(c.Request().Context(), services.StartSimulationInput{
		Query:     query,
		UserID:    extractAuthor(c),
		Mode:      req.Mode,
		MaxStages: req.MaxStages,
		Context:   req.Context,
	})
	if err != nil {
		return mapServiceError(err)
	}

	resp := &StartSimulationResponse{
		OK:        true,
		SessionID: out.Session.ID,
		Mode:      out.Mode,
		Status:    out.Session.Status,
	}
	status := http.StatusOK
	if out.Result != nil {
		resp.RunID = out.Result.RunID
		resp.Result = out.Result
	}
	if out.Mode == services.ModeAsync {
		status = http.StatusAccepted
	}
	return c.JSON(status, resp)
}

// stepSimulationHandler handles POST /simulation/step/:id. The body is
// optional; an absent or zero stage advances to whatever comes next.
func (s *Server) stepSimulationHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	var req StepSimulationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.simulations.StepSimulation(c.Request().Context(), services.StepSimulationInput{
		SessionID: sessionID,
		Stage:     req.Stage,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &StepSimulationResponse{
		OK:      true,
		Session: result.Session,
		Layer:   result.Layer,
	})
}

// getSessionHandler handles GET /simulation/session/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	sess, err := s.simulations.GetSession(sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SessionResponse{OK: true, Session: sess})
}

// listSessionsHandler handles GET /simulation/sessions.
func (s *Server) listSessionsHandler(c *echo.Context) error {
	sessions := s.simulations.ListSessions()
	return c.JSON(http.StatusOK, &SessionListResponse{
		OK:       true,
		Count:    len(sessions),
		Sessions: sessions,
	})
}

// pauseSimulationHandler handles POST /simulation/pause/:id.
func (s *Server) pauseSimulationHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	sess, err := s.simulations.PauseSimulation(sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &SessionResponse{OK: true, Session: sess})
}

// resumeSimulationHandler handles POST /simulation/resume/:id. Resumption
// is synchronous: the response carries the run result after the session
// reached its next stopping point.
func (s *Server) resumeSimulationHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	result, err := s.simulations.ResumeSimulation(c.Request().Context(), sessionID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ResumeSimulationResponse{OK: true, Result: result})
}

// containSimulationHandler handles POST /simulation/contain/:id.
func (s *Server) containSimulationHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}
	var req ContainSimulationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cert, err := s.simulations.ContainSimulation(sessionID, req.Reason)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &ContainSimulationResponse{
		OK:          true,
		SessionID:   sessionID,
		Certificate: cert,
	})
}
