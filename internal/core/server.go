// Package core provides the API chassis for the time and billing ledger.
// It builds a chi router and enforces the cross-cutting concerns (panic
// recovery, request correlation, logging, security headers) before requests
// reach the domain handlers.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"taxledger/internal/config"
)

// Server encapsulates the API dependencies, allowing injection during
// testing and distinct configuration across environments.
type Server struct {
	Config    *config.Config
	Logger    *slog.Logger
	Validator *Validator

	// HealthProbes are checked by GET /health; register one per critical
	// dependency (database, document service).
	HealthProbes []HealthProbe

	// V1RouteRegistrars mount the domain handlers under /v1. Populated by
	// the application entry point to avoid import cycles between core and
	// handler packages.
	V1RouteRegistrars []func(chi.Router)

	// onShutdown holds cleanup hooks run during Shutdown, in registration
	// order.
	onShutdown []func(context.Context) error

	router *chi.Mux
}

// NewServer initializes the server chassis. The caller mounts routes via
// MountRoutes after registering handlers and probes.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:    cfg,
		Logger:    logger,
		Validator: NewValidator(logger),
		router:    chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// OnShutdown registers a cleanup hook (pool close, client drain) to run
// during graceful shutdown.
func (s *Server) OnShutdown(fn func(context.Context) error) {
	s.onShutdown = append(s.onShutdown, fn)
}

// Shutdown runs the registered cleanup hooks in order. The first failure is
// returned after all hooks have been attempted.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Logger.Info("server shutdown initiated")

	var firstErr error
	for _, fn := range s.onShutdown {
		if err := fn(ctx); err != nil {
			s.Logger.Error("shutdown hook failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if firstErr != nil {
		return fmt.Errorf("shutdown cleanup: %w", firstErr)
	}
	s.Logger.Info("server shutdown complete")
	return nil
}
