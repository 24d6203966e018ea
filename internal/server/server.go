// Package server exposes the admin HTTP API of the module host.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/modhost/internal/dynlib"
	"github.com/nfrund/modhost/internal/modloader"
)

// ModuleRegistry is the part of the loader the admin API needs.
type ModuleRegistry interface {
	Snapshot() []modloader.ContextStatus
	Status(moduleContext string) (modloader.ContextStatus, bool)
	NotifyContext(moduleContext string) string
	Naming() dynlib.Naming
	PendingReclaims() int
}

// Server holds the dependencies for the admin HTTP server.
type Server struct {
	E       *echo.Echo
	addr    string
	modules ModuleRegistry

	mu       sync.Mutex
	listener net.Listener
	done     chan struct{}
}

// New creates a Server for modules listening on addr. An empty addr disables it.
func New(addr string, modules ModuleRegistry) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()

	e.Use(middleware.RequestID())
	e.Use(requestLogger)
	e.Use(middleware.Recover())
	setupErrorHandling(e)

	s := &Server{E: e, addr: addr, modules: modules}
	s.RegisterRoutes()
	return s
}

// Name returns the component name.
func (s *Server) Name() string {
	return "admin_server"
}

// Addr returns the bound address once the server is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Boot starts listening and serves requests in the background.
func (s *Server) Boot(ctx context.Context) error {
	if s.addr == "" {
		slog.Info("Admin server disabled")
		return nil
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}

	s.mu.Lock()
	s.listener = ln
	s.done = make(chan struct{})
	s.E.Listener = ln
	done := s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		if err := s.E.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Admin server stopped unexpectedly", "error", err)
		}
	}()

	slog.Info("Admin server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.done = nil
	s.mu.Unlock()

	if done == nil {
		return nil
	}
	if err := s.E.Shutdown(ctx); err != nil {
		return err
	}
	<-done
	return nil
}
