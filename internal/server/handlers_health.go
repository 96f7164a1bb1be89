package server

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/harshdtripathi/classpulse/internal/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
	})
}

// handleReadiness has no external dependencies to probe; it reports the
// in-memory state the process is serving.
func (s *Server) handleReadiness(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"status":  "ready",
		"rooms":   s.registry.RoomCount(),
		"clients": s.hub.ClientCount(),
	})
}

func (s *Server) handleVersion(c echo.Context) error {
	return c.JSON(200, version.Get())
}
