package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/newsledger/internal/discovery"
	"github.com/ppiankov/newsledger/internal/ingest"
	"github.com/ppiankov/newsledger/internal/ledger"
	"github.com/ppiankov/newsledger/internal/pipeline"
	"github.com/ppiankov/newsledger/internal/tasks"
)

// BackfillRequest is the POST /backfill body. Both fields are optional.
type BackfillRequest struct {
	Outlets []string `json:"outlets"`
	Days    int      `json:"days"`
}

func (s *Server) registerPipelineRoutes(r *gin.Engine) {
	r.POST("/backfill", s.handleBackfill)
	r.GET("/backfill", s.handleBackfill)

	r.POST("/ingest-worker", s.handleIngest)
	r.GET("/ingest-worker", s.handleIngest)

	r.POST("/score-worker", s.handleScore)
	r.GET("/score-worker", s.handleScore)

	r.POST("/news/refresh", s.handleRefresh)
	r.GET("/news/refresh", s.handleRefresh)
	r.GET("/news/refresh/:id", s.handleRefreshStatus)
}

func (s *Server) handleBackfill(c *gin.Context) {
	var req BackfillRequest
	if c.Request.Method == http.MethodPost {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			abortError(c, http.StatusBadRequest, CodeBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	} else {
		req.Outlets = c.QueryArray("outlet")
		req.Days = queryInt(c, "days", 0)
	}

	if s.pipeline.Backfiller == nil {
		abortNoStore(c)
		return
	}

	days := req.Days
	if days <= 0 {
		days = discovery.DefaultDays
	}
	results := s.pipeline.Backfiller.Run(c.Request.Context(), req.Outlets, days)
	c.JSON(http.StatusOK, gin.H{"ok": true, "days": days, "outlets": results})
}

// ingestResponse flattens ingest.Stats next to the ok flag
type ingestResponse struct {
	OK bool `json:"ok"`
	ingest.Stats
}

func (s *Server) handleIngest(c *gin.Context) {
	if s.pipeline.Ingest == nil {
		abortNoStore(c)
		return
	}

	limit := ingest.ClampLimit(queryInt(c, "limit", ingest.DefaultLimit))
	stats, err := s.pipeline.Ingest.RunBatch(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("ingest batch failed", "error", err)
		abortError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, ingestResponse{OK: true, Stats: stats})
}

type scoreResponse struct {
	OK bool `json:"ok"`
	ledger.Stats
}

func (s *Server) handleScore(c *gin.Context) {
	if s.pipeline.Store == nil {
		abortNoStore(c)
		return
	}
	if s.pipeline.Ledger == nil {
		abortError(c, http.StatusServiceUnavailable, CodeNoOracle, pipeline.ErrNoOracle.Error())
		return
	}

	limit := ledger.ClampLimit(queryInt(c, "limit", ledger.DefaultLimit))
	stats, err := s.pipeline.Ledger.BuildBatch(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("score batch failed", "error", err)
		abortError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}
	c.JSON(http.StatusOK, scoreResponse{OK: true, Stats: stats})
}

// handleRefresh acknowledges immediately; the refresh runs as a supervised task
func (s *Server) handleRefresh(c *gin.Context) {
	task, err := s.pipeline.StartRefresh(c.Request.Context())
	switch {
	case errors.Is(err, pipeline.ErrNoStore):
		abortNoStore(c)
		return
	case errors.Is(err, tasks.ErrAlreadyRunning):
		abortError(c, http.StatusConflict, CodeAlreadyRunning, "a refresh is already running")
		return
	case err != nil:
		s.logger.Error("refresh start failed", "error", err)
		abortError(c, http.StatusInternalServerError, CodeInternal, err.Error())
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"ok":         true,
		"task_id":    task.ID,
		"status":     task.Status,
		"started_at": task.StartedAt,
		"status_url": "/news/refresh/" + task.ID,
	})
}

func (s *Server) handleRefreshStatus(c *gin.Context) {
	task, ok := s.pipeline.Tasks.Get(c.Param("id"))
	if !ok {
		abortError(c, http.StatusNotFound, CodeNotFound, "unknown task")
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "task": task})
}
