package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/harshdtripathi/classpulse/internal/config"
	"github.com/harshdtripathi/classpulse/internal/gateway"
	"github.com/harshdtripathi/classpulse/internal/rooms"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	registry  *rooms.Registry
	hub       *gateway.Hub
	upgrader  websocket.Upgrader
	startTime time.Time
}

func NewServer(cfg *config.Config, registry *rooms.Registry, hub *gateway.Hub) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.AllowedOriginList(),
	}))

	srv := &Server{
		echo:      e,
		config:    cfg,
		registry:  registry,
		hub:       hub,
		startTime: time.Now(),
	}
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOriginList()),
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// originChecker accepts any origin when the list contains "*", otherwise
// requires an exact match with the Origin header.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
		}
		set[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Non-browser clients send no Origin header.
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
