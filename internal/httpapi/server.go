// Package httpapi exposes the sync engine and outbox over a local HTTP
// surface for tool callers.
package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/figsync/internal/actions"
	"github.com/figsync/internal/outbox"
	"github.com/figsync/internal/syncengine"
	"github.com/figsync/pkg/models"
)

// Server binds HTTP routes to the sync core.
type Server struct {
	engine  *syncengine.Engine
	actions *actions.Service
	outbox  *outbox.Outbox
}

// NewServer creates the HTTP server wiring.
func NewServer(engine *syncengine.Engine, svc *actions.Service, ob *outbox.Outbox) *Server {
	return &Server{engine: engine, actions: svc, outbox: ob}
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s.RegisterRoutes(e)

	addr := fmt.Sprintf(":%d", port)
	log.Info().Str("addr", addr).Msg("Starting figsync HTTP server")
	return e.Start(addr)
}

// RegisterRoutes attaches all API routes to an echo instance.
func (s *Server) RegisterRoutes(e *echo.Echo) {
	api := e.Group("/api/v1")

	api.POST("/sync", s.Sync)
	api.GET("/files/:file_key/threads", s.ListThreads)
	api.GET("/files/:file_key/threads/:thread_id", s.GetThread)
	api.POST("/reply", s.PostReply)
	api.POST("/status", s.SetStatus)
	api.POST("/delete", s.DeleteOwnReply)
	api.POST("/outbox/drain", s.DrainOutbox)
	api.POST("/outbox/cleanup", s.CleanupOutbox)
}

type syncRequest struct {
	FileKey       string `json:"file_key"`
	ForceFullSync bool   `json:"force_full_sync"`
}

// POST /api/v1/sync
func (s *Server) Sync(c echo.Context) error {
	var req syncRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.FileKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file_key is required"})
	}

	result, err := s.engine.FullSync(c.Request().Context(), req.FileKey, req.ForceFullSync)
	if err != nil {
		log.Error().Str("file_key", req.FileKey).Err(err).Msg("Full sync failed")
		return c.JSON(http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

// GET /api/v1/files/:file_key/threads/:thread_id
func (s *Server) GetThread(c echo.Context) error {
	fileKey := c.Param("file_key")
	threadID := c.Param("thread_id")

	thread, err := s.engine.GetThread(c.Request().Context(), fileKey, threadID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	if thread == nil {
		return c.JSON(http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("thread %s not found; run a sync first", threadID),
		})
	}
	return c.JSON(http.StatusOK, thread)
}

// GET /api/v1/files/:file_key/threads?limit=20
func (s *Server) ListThreads(c echo.Context) error {
	fileKey := c.Param("file_key")

	limit := 20
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
		}
		limit = parsed
	}

	threads, err := s.engine.ListOpenThreads(c.Request().Context(), fileKey, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"threads": threads})
}

type replyRequest struct {
	FileKey       string `json:"file_key"`
	RootCommentID string `json:"root_comment_id"`
	Message       string `json:"message"`
}

// POST /api/v1/reply
func (s *Server) PostReply(c echo.Context) error {
	var req replyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.FileKey == "" || req.RootCommentID == "" || req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file_key, root_comment_id and message are required"})
	}

	result, err := s.actions.PostReply(c.Request().Context(), req.FileKey, req.RootCommentID, req.Message)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

type statusRequest struct {
	FileKey   string `json:"file_key"`
	CommentID string `json:"comment_id"`
	Status    string `json:"status"`
}

// POST /api/v1/status
func (s *Server) SetStatus(c echo.Context) error {
	var req statusRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	status := models.Status(req.Status)
	switch status {
	case models.StatusPending, models.StatusDone, models.StatusWontfix, models.StatusOpen:
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "status must be one of OPEN, PENDING, DONE, WONTFIX"})
	}

	result, err := s.actions.SetStatus(c.Request().Context(), req.FileKey, req.CommentID, status)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

type deleteRequest struct {
	FileKey   string `json:"file_key"`
	CommentID string `json:"comment_id"`
}

// POST /api/v1/delete
func (s *Server) DeleteOwnReply(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	result, err := s.actions.DeleteOwnReply(c.Request().Context(), req.FileKey, req.CommentID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, result)
}

type drainRequest struct {
	FileKey string `json:"file_key"`
}

// POST /api/v1/outbox/drain
func (s *Server) DrainOutbox(c echo.Context) error {
	var req drainRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.FileKey == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "file_key is required"})
	}

	processed, err := s.outbox.Drain(c.Request().Context(), req.FileKey)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int{"processed": processed})
}

// POST /api/v1/outbox/cleanup
func (s *Server) CleanupOutbox(c echo.Context) error {
	deleted, err := s.outbox.Cleanup(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": deleted})
}
