package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/version", s.handleVersion)

	// One websocket connection per participant; rooms are multicast groups
	// inside the gateway, not separate endpoints.
	s.echo.GET("/ws", s.handleWebSocket)

	// Static classroom client, when configured
	if s.config.StaticDir != "" {
		s.echo.Static("/", s.config.StaticDir)
	}
}
