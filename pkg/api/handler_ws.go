package api

import (
	"net/http"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades GET /ws/simulation/:id to a WebSocket and hands the
// socket to the hub. HandleConnection blocks until the client disconnects.
func (s *Server) wsHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	opts := &websocket.AcceptOptions{InsecureSkipVerify: true}
	if len(s.cfg.AllowedWSOrigins) > 0 {
		opts = &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedWSOrigins}
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), opts)
	if err != nil {
		// Accept already wrote the handshake failure to the client.
		s.logger.Debug("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return nil
	}

	if err := s.hub.HandleConnection(c.Request().Context(), conn, sessionID, c.QueryParam("client_id")); err != nil {
		s.logger.Debug("WebSocket connection closed", "session_id", sessionID, "error", err)
	}
	return nil
}
