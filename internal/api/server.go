// Package api exposes the pipeline over HTTP with gin
package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/newsledger/internal/logging"
	"github.com/ppiankov/newsledger/internal/pipeline"
)

// Error codes returned in the "code" field
const (
	CodeNoStore        = "NO_STORE"
	CodeNoOracle       = "NO_ORACLE"
	CodeNoOutlet       = "NO_OUTLET"
	CodeBadRequest     = "BAD_REQUEST"
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodeNotFound       = "NOT_FOUND"
	CodeInternal       = "INTERNAL"
)

// Server serves the HTTP surface of one pipeline
type Server struct {
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// NewServer creates a server for p
func NewServer(p *pipeline.Pipeline, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Server{pipeline: p, logger: logger.With("component", "api")}
}

// Router constructs a gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	s.registerHealthRoutes(r)
	s.registerPipelineRoutes(r)
	s.registerReadRoutes(r)
	return r
}

// requestLogger logs one line per request through slog
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) registerHealthRoutes(r *gin.Engine) {
	r.GET("/healthz", s.handleHealth)
}

func (s *Server) handleHealth(c *gin.Context) {
	storeOK := false
	if st := s.pipeline.Store; st != nil {
		if err := st.Ping(c.Request.Context()); err != nil {
			s.logger.Warn("store ping failed", "error", err)
		} else {
			storeOK = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "store": storeOK})
}

// queryInt parses an integer query parameter, returning fallback when it is
// missing or malformed
func queryInt(c *gin.Context, key string, fallback int) int {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"ok": false, "code": code, "error": message})
}

func abortNoStore(c *gin.Context) {
	abortError(c, http.StatusServiceUnavailable, CodeNoStore, pipeline.ErrNoStore.Error())
}
