// Package api provides the HTTP facade over the lab orchestrator.
// It uses the Echo framework to serve REST endpoints and a WebSocket
// endpoint for real-time lab monitoring. The facade is a collaborator of
// the core: authorization, auditing persistence and UI live elsewhere.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cewlabs/cew/internal/config"
	"github.com/cewlabs/cew/internal/orchestrator"
	"github.com/cewlabs/cew/models"
)

// Server is the orchestrator's HTTP facade.
type Server struct {
	echo *echo.Echo
	cfg  *config.Config
	orch *orchestrator.Orchestrator
}

// New creates the facade around a constructed orchestrator. No module-level
// singletons: the orchestrator is injected here and threaded to handlers.
func New(cfg *config.Config, orch *orchestrator.Orchestrator) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Debug = cfg.Server.Debug
	e.HTTPErrorHandler = HTTPErrorHandler

	s := &Server{echo: e, cfg: cfg, orch: orch}

	// The core delivers transition events synchronously; the facade's hook
	// just logs them. A persistent audit log is a collaborator concern.
	orch.RegisterAuditHook(func(ev models.AuditEvent) {
		log.Printf("Audit: lab=%s %s->%s activator=%q error=%q",
			ev.LabID, ev.From, ev.To, ev.Activator, ev.Error)
	})

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.echo.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())

	if len(s.cfg.Server.AllowedOrigins) > 0 {
		s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: s.cfg.Server.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		}))
	}
}

func (s *Server) setupRoutes() {
	s.echo.GET("/healthz", s.handleHealthz)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/labs", s.handleCreateLab)
	v1.GET("/labs", s.handleListLabs)
	v1.GET("/labs/active", s.handleListActiveLabs)
	v1.POST("/labs/kill-all", s.handleKillAll)
	v1.GET("/labs/:id", s.handleGetLab)
	v1.DELETE("/labs/:id", s.handleStopLab)
	v1.GET("/labs/:id/health", s.handleLabHealth)
	v1.GET("/labs/:id/usage", s.handleLabUsage)
	v1.POST("/labs/:id/recover", s.handleRecoverLab)
	v1.GET("/labs/:id/monitor", s.handleMonitorLab)
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	log.Printf("Lab orchestrator listening on %s (backend: %s)", addr, s.orch.BackendMode())

	s.echo.Server.ReadTimeout = s.cfg.Server.ReadTimeout
	s.echo.Server.WriteTimeout = s.cfg.Server.WriteTimeout

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
