package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/strata-sim/strata/pkg/services"
)

// getMemoryCellHandler handles GET /memory/cell.
// Lookup is by ?coordinate=<pipe-encoded> or ?cell_id=<uuid>; cell_id wins
// and reaches superseded cells too. ?persona= filters the coordinate path.
func (s *Server) getMemoryCellHandler(c *echo.Context) error {
	coord := c.QueryParam("coordinate")
	cellID := c.QueryParam("cell_id")
	if coord == "" && cellID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "coordinate or cell_id query parameter is required")
	}

	input := services.CellLookupInput{
		CellID:  cellID,
		Persona: c.QueryParam("persona"),
	}
	if coord != "" {
		input.Coordinate = coord
	}

	cell, err := s.memory.GetCell(input)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MemoryCellResponse{OK: true, Cell: cell})
}

// patchMemoryHandler handles POST /memory/patch.
func (s *Server) patchMemoryHandler(c *echo.Context) error {
	var req PatchMemoryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	cell, err := s.memory.PatchCell(services.PatchCellInput{
		Coordinate: req.Coordinate,
		Value:      req.Value,
		Meta:       req.Meta,
		Persona:    req.Persona,
	})
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MemoryPatchResponse{OK: true, Cell: cell})
}

// memoryAncestryHandler handles GET /memory/ancestry/:id.
func (s *Server) memoryAncestryHandler(c *echo.Context) error {
	cellID := c.Param("id")
	if cellID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "cell id is required")
	}
	chain, err := s.memory.Ancestry(cellID)
	if err != nil {
		return mapServiceError(err)
	}
	return c.JSON(http.StatusOK, &MemoryAncestryResponse{OK: true, Chain: chain})
}

// memoryStatsHandler handles GET /memory/stats.
func (s *Server) memoryStatsHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &MemoryStatsResponse{OK: true, Stats: s.memory.Stats()})
}
