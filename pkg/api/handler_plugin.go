package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// reloadPluginsHandler handles POST /plugin/ka/reload.
func (s *Server) reloadPluginsHandler(c *echo.Context) error {
	names, err := s.plugins.Reload()
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &PluginReloadResponse{
		OK:     true,
		Count:  len(names),
		Loaded: names,
	})
}

// listPluginsHandler handles GET /plugin/ka/list.
func (s *Server) listPluginsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &PluginListResponse{OK: true, Plugins: s.plugins.List()})
}

// runPluginHandler handles POST /plugin/ka/run/:name.
// A crashing plugin is still a 200: the canned failure result carries
// output null, confidence 0 and entropy 1 with the crash in the trace.
func (s *Server) runPluginHandler(c *echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "plugin name is required")
	}
	var req RunPluginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.plugins.Run(c.Request().Context(), services.RunPluginInput{
		Name:    name,
		Input:   req.Input,
		Context: req.Context,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &PluginRunResponse{OK: true, Result: result})
}
