package api

import (
	echo "github.com/labstack/echo/v5"
)

// extractAuthor resolves the acting user from auth-proxy headers, falling
// back to a generic identity for direct API callers.
// Priority: X-Forwarded-User > X-Forwarded-Email > X-Remote-User.
func extractAuthor(c *echo.Context) string {
	if user := c.Request().Header.Get("X-Forwarded-User"); user != "" {
		return user
	}
	if email := c.Request().Header.Get("X-Forwarded-Email"); email != "" {
		return email
	}
	if user := c.Request().Header.Get("X-Remote-User"); user != "" {
		return user
	}
	return "api-client"
}
