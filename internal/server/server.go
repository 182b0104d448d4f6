// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects handlers, middleware and
// routes, and decides:
//   - which URL patterns map to which handler functions
//   - which middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
// cmd/server opens the store and the event publisher and hands them to New.
// New builds the rest:
//
//	Store → TokenService → AuthService → AuthHandler / SocialAuthHandler
//
// This is the "composition root" pattern: all dependencies are wired in one
// place rather than scattered across the codebase.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/authd/internal/auth"
	"github.com/sakif/authd/internal/config"
	"github.com/sakif/authd/internal/events"
	"github.com/sakif/authd/internal/handler"
	"github.com/sakif/authd/internal/middleware"
	"github.com/sakif/authd/internal/repository"
	"github.com/sakif/authd/internal/service"
)

// shutdownTimeout is how long in-flight requests get to finish on SIGTERM.
const shutdownTimeout = 30 * time.Second

// Deps are the resources the server uses but does not construct.
// The server owns Store and Publisher once New returns and closes them on
// shutdown.
type Deps struct {
	Store     repository.Store
	Publisher events.Publisher
	Passwords *auth.PasswordService

	// Google is nil when Google login is not configured; its routes are then
	// not mounted.
	Google handler.SocialProvider
}

// Server represents the HTTP server and all its dependencies.
type Server struct {
	router    *chi.Mux
	config    *config.Config
	logger    *slog.Logger
	store     repository.Store
	publisher events.Publisher
}

// New creates a Server and wires every route.
func New(cfg *config.Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Store == nil || deps.Passwords == nil {
		return nil, errors.New("server: store and password service are required")
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Noop{}
	}

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		store:     deps.Store,
		publisher: deps.Publisher,
	}

	if err := s.setupRoutes(deps); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the router. Tests drive it with httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// GET    /                       → hello (JSON)
// GET    /healthz                → store ping
// POST   /auth/register          → create local account
// POST   /auth/login             → email/password login
// POST   /auth/logout            → revoke current token   [bearer]
// GET    /auth/me                → current user profile   [bearer]
// GET    /auth/google/redirect   → consent screen         [if configured]
// GET    /auth/google/callback   → finish OAuth flow      [if configured]
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns an ID the logger picks up
// 2. RealIP: extracts the client IP from proxy headers
// 3. Logger: logs each request with timing info
// 4. Recoverer: turns panics into 500s instead of crashing
func (s *Server) setupRoutes(deps Deps) error {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	tokens := service.NewTokenService(s.store, s.logger)
	authService := service.NewAuthService(s.store, tokens, deps.Passwords, s.publisher, s.config.Auth.TokenTTL, s.logger)

	health := handler.NewHealthHandler(s.store, s.logger)
	authHandler := handler.NewAuthHandler(authService, s.logger)

	s.router.Get("/", health.Root)
	s.router.Get("/healthz", health.Healthz)

	var social *handler.SocialAuthHandler
	if deps.Google != nil {
		states, err := auth.NewStateSigner(s.config.AppKey)
		if err != nil {
			return err
		}
		social, err = handler.NewSocialAuthHandler(
			deps.Google,
			states,
			authService,
			s.config.FrontendCallbackURL(),
			!s.config.IsLocal(),
			s.logger,
		)
		if err != nil {
			return err
		}
	} else {
		s.logger.Warn("Google login not configured; /auth/google routes disabled")
	}

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)

		// Bearer-protected routes.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens, s.logger))
			r.Post("/logout", authHandler.Logout)
			r.Get("/me", authHandler.Me)
		})

		if social != nil {
			r.Get("/google/redirect", social.Redirect)
			r.Get("/google/callback", social.Callback)
		}
	})

	return nil
}

// Start runs the HTTP server until ctx is cancelled, then shuts down.
// cmd/server cancels ctx on SIGINT/SIGTERM.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (30s timeout)
//  3. Close the event publisher and the store
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("driver", s.config.Database.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown requested", slog.String("reason", context.Cause(ctx).Error()))

		// ctx is already done; the drain gets its own deadline.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

func (s *Server) close() {
	if err := s.publisher.Close(); err != nil {
		s.logger.Error("closing event publisher", slog.String("error", err.Error()))
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("closing store", slog.String("error", err.Error()))
	}
}
