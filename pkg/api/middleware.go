package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

// errorEnvelope returns middleware that renders handler errors as the
// {ok:false, error:{kind,message}} envelope, so callers never see echo's
// default error body.
func (s *Server) errorEnvelope() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			apiErr := asAPIError(err)
			if apiErr.status >= http.StatusInternalServerError {
				s.logger.Error("Request failed",
					"method", c.Request().Method,
					"path", c.Request().URL.Path,
					"error", err)
			}
			return c.JSON(apiErr.status, &errorResponse{OK: false, Error: apiErr})
		}
	}
}
