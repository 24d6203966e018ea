package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nfrund/modhost/internal/modloader"
)

// RegisterRoutes sets up all admin routes.
func (s *Server) RegisterRoutes() {
	s.E.GET("/healthz", s.health)

	g := s.E.Group("/modules")
	g.GET("", s.listModules)
	g.GET("/:context", s.getModule)
	g.POST("/:context/reload", s.reloadModule, reloadRateLimiter())
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:          "ok",
		Contexts:        len(s.modules.Snapshot()),
		PendingReclaims: s.modules.PendingReclaims(),
	})
}

func (s *Server) listModules(c echo.Context) error {
	modules := s.modules.Snapshot()
	if modules == nil {
		modules = []modloader.ContextStatus{}
	}
	return c.JSON(http.StatusOK, modules)
}

func (s *Server) getModule(c echo.Context) error {
	req, err := s.bindContext(c)
	if err != nil {
		return err
	}

	st, ok := s.modules.Status(req.Context)
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{
			Code:    "module_not_loaded",
			Message: "no module is active for context " + req.Context,
		})
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) reloadModule(c echo.Context) error {
	req, err := s.bindContext(c)
	if err != nil {
		return err
	}

	path := s.modules.NotifyContext(req.Context)
	loggerFrom(c.Request().Context()).Info("Module reload requested", "context", req.Context, "path", path)

	return c.JSON(http.StatusAccepted, ReloadResponse{Context: req.Context, Path: path})
}

// bindContext binds and validates the :context path parameter.
func (s *Server) bindContext(c echo.Context) (*ContextRequest, error) {
	req := new(ContextRequest)
	if err := c.Bind(req); err != nil {
		return nil, err
	}
	if err := c.Validate(req); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !s.modules.Naming().Valid(s.modules.Naming().FileName(req.Context)) {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid module context "+req.Context)
	}
	return req, nil
}

// reloadRateLimiter limits reload requests to one per second per client IP.
func reloadRateLimiter() echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: middleware.NewRateLimiterMemoryStore(1),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return c.JSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    "rate_limited",
				Message: "Too many reload requests. Please try again later.",
			})
		},
	})
}
