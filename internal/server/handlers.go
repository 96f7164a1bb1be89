package server

import (
	"fmt"

	"github.com/labstack/echo/v4"

	"github.com/harshdtripathi/classpulse/internal/gateway"
)

func (s *Server) handleWebSocket(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade WebSocket: %w", err)
	}

	// Run blocks until the connection closes and detaches it from the hub.
	session := gateway.NewSession(s.hub, s.registry, conn)
	session.Run()

	return nil
}
