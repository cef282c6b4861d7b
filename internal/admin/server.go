// Package admin exposes the operator HTTP surface: server start/stop,
// session listing and disconnect, chat broadcast, health and metrics.
// It is a JSON API intended for a local operator console, bound to
// loopback by default.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/postwire/postwire/internal/config"
	"github.com/postwire/postwire/internal/logging"
	"github.com/postwire/postwire/internal/registry"
	"github.com/postwire/postwire/internal/server"
)

// Server is the admin HTTP server. It is a thin pass-through into the
// server core; the endpoints carry no protocol semantics of their own.
type Server struct {
	cfg        *config.Config
	core       *server.Server
	registry   *registry.Registry
	logger     *logging.Logger
	limiter    *RateLimiter
	httpServer *http.Server
}

// NewServer creates an admin server over the given core.
func NewServer(cfg *config.Config, core *server.Server, reg *registry.Registry, logger *logging.Logger) *Server {
	return &Server{
		cfg:      cfg,
		core:     core,
		registry: reg,
		logger:   logger.Admin(),
		limiter:  DefaultRateLimiter(),
	}
}

// Handler builds the route table. Split out of Start so tests can
// exercise the routes without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/admin/server/start", s.withLimit(s.handleServerStart))
	mux.HandleFunc("/admin/server/stop", s.withLimit(s.handleServerStop))
	mux.HandleFunc("/admin/broadcast", s.withLimit(s.handleBroadcast))
	mux.HandleFunc("/admin/sessions", s.handleSessions)
	mux.HandleFunc("/admin/sessions/disconnect", s.withLimit(s.handleDisconnect))

	return s.withLogging(mux)
}

// Start binds the admin listener and serves until Shutdown.
func (s *Server) Start(listen string) error {
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("admin server listening", "listen", listen)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the admin server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
