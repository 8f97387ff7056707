// Package httpapi is a thin HTTP adapter forwarding the four Core API
// operations (health, scan, recommend, activity.log) over JSON (§6).
package httpapi

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/filerecall/filerecall/internal/core"
	"github.com/filerecall/filerecall/internal/errors"
)

// Server wraps an echo.Echo exposing the Core API over HTTP.
type Server struct {
	e   *echo.Echo
	svc *core.Service
}

// New builds a Server delegating to svc.
func New(svc *core.Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())

	s := &Server{e: e, svc: svc}

	group := e.Group("/api/v1")
	group.GET("/health", s.health)
	group.POST("/scan", s.scan)
	group.GET("/recommend", s.recommend)
	group.POST("/activity/log", s.logActivity)

	return s
}

// Serve runs the server on ln until ln is closed.
func (s *Server) Serve(ln net.Listener) error {
	srv := http.Server{Handler: s.e}
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// statusForKind maps a Core error Kind to the HTTP status named in the
// CLI/HTTP adapter addendum (§6): not_found->404, invalid_input->400,
// io_error/store_error->500, cancelled->499.
func statusForKind(kind string) int {
	switch kind {
	case string(errors.KindNotFound):
		return http.StatusNotFound
	case string(errors.KindInvalidInput):
		return http.StatusBadRequest
	case string(errors.KindCancelled):
		return 499
	case string(errors.KindIOError), string(errors.KindStoreError), string(errors.KindIndexError),
		string(errors.KindDecodeError), string(errors.KindExtractorError), string(errors.KindEmbedderError):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(c echo.Context, err error) error {
	code, message := errors.MapToBoundaryCode(err)
	slog.Error("request failed", slog.String("code", code), slog.String("message", message))
	return c.JSON(statusForKind(code), map[string]string{"code": code, "message": message})
}

func (s *Server) health(c echo.Context) error {
	result, err := s.svc.Health(c.Request().Context())
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

type scanRequest struct {
	Root string `json:"root"`
}

func (s *Server) scan(c echo.Context) error {
	var req scanRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"code": "invalid_input", "message": "invalid request body"})
	}

	report, err := s.svc.Scan(c.Request().Context(), req.Root)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) recommend(c echo.Context) error {
	path := c.QueryParam("path")
	limit := 0
	if l := c.QueryParam("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	recs, err := s.svc.Recommend(c.Request().Context(), path, limit)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, recs)
}

type activityLogRequest struct {
	Path string `json:"path"`
}

func (s *Server) logActivity(c echo.Context) error {
	var req activityLogRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"code": "invalid_input", "message": "invalid request body"})
	}

	result, err := s.svc.LogActivity(c.Request().Context(), req.Path)
	if err != nil {
		return writeErr(c, err)
	}
	return c.JSON(http.StatusOK, result)
}
