package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/newsledger/internal/cache"
	"github.com/ppiankov/newsledger/internal/digest"
	"github.com/ppiankov/newsledger/internal/model"
	"github.com/ppiankov/newsledger/internal/pipeline"
	"github.com/ppiankov/newsledger/internal/store"
	"github.com/ppiankov/newsledger/internal/trends"
)

// Outlet-neutrality query bounds
const (
	DefaultMinStoryCount   = 3
	DefaultNeutralityLimit = 100
	MaxNeutralityLimit     = 200
)

// Read endpoints never fail hard on a missing or broken store: they answer
// 200 with ok:false and an empty payload.
func (s *Server) registerReadRoutes(r *gin.Engine) {
	r.GET("/news/digest", s.handleDigest)
	r.GET("/news/outlets/trends", s.handleTrends)
	r.GET("/public/outlet-neutrality", s.handleNeutrality)
	r.POST("/public/outlet-neutrality", s.handleNeutrality)
}

func (s *Server) handleDigest(c *gin.Context) {
	limit := digest.ClampLimit(queryInt(c, "limit", digest.DefaultLimit))
	sort := digest.NormalizeSort(c.Query("sort"))
	empty := gin.H{"ok": false, "count": 0, "sort": sort, "stories": []model.DigestEntry{}}

	if s.pipeline.Digest == nil {
		empty["error"] = pipeline.ErrNoStore.Error()
		c.JSON(http.StatusOK, empty)
		return
	}

	entries, err := s.pipeline.Digest.Digest(c.Request.Context(), limit, sort)
	if err != nil {
		s.logger.Error("digest failed", "error", err)
		empty["error"] = err.Error()
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "count": len(entries), "sort": sort, "stories": entries})
}

func (s *Server) handleTrends(c *gin.Context) {
	outletInput := strings.TrimSpace(c.Query("outlet"))
	if outletInput == "" {
		abortError(c, http.StatusBadRequest, CodeNoOutlet, "outlet query parameter is required")
		return
	}
	window := trends.ClampWindow(queryInt(c, "limit", trends.DefaultWindow))
	empty := gin.H{"ok": false, "outlet": outletInput, "count": 0, "points": []model.OutletTrendPoint{}}

	if s.pipeline.Trends == nil {
		empty["error"] = pipeline.ErrNoStore.Error()
		c.JSON(http.StatusOK, empty)
		return
	}

	canonical, points, err := s.pipeline.Trends.TrendsFor(c.Request.Context(), outletInput, window)
	if err != nil {
		s.logger.Error("trends failed", "outlet", outletInput, "error", err)
		empty["error"] = err.Error()
		c.JSON(http.StatusOK, empty)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "outlet": canonical, "count": len(points), "points": points})
}

// neutralityPage is the cached body of an outlet-neutrality answer
type neutralityPage struct {
	Rows  []model.OutletNeutrality `json:"rows"`
	Total int                      `json:"total"`
}

// NeutralityQuery applies defaults and bounds to outlet-neutrality parameters
func NeutralityQuery(minStoryCount, limit int, sort string) store.NeutralityQuery {
	if minStoryCount <= 0 {
		minStoryCount = DefaultMinStoryCount
	}
	switch {
	case limit <= 0:
		limit = DefaultNeutralityLimit
	case limit > MaxNeutralityLimit:
		limit = MaxNeutralityLimit
	}
	if strings.EqualFold(strings.TrimSpace(sort), store.SortNeutrality) {
		sort = store.SortNeutrality
	} else {
		sort = store.SortStories
	}
	return store.NeutralityQuery{MinStoryCount: minStoryCount, Sort: sort, Limit: limit}
}

func (s *Server) handleNeutrality(c *gin.Context) {
	q := NeutralityQuery(queryInt(c, "min_story_count", 0), queryInt(c, "limit", 0), c.Query("sort"))
	empty := gin.H{"ok": false, "min_story_count": q.MinStoryCount, "sort": q.Sort, "total": 0, "rows": []model.OutletNeutrality{}}

	st := s.pipeline.Store
	if st == nil {
		empty["error"] = pipeline.ErrNoStore.Error()
		c.JSON(http.StatusOK, empty)
		return
	}

	key := cache.Key("neutrality", strconv.Itoa(q.MinStoryCount), q.Sort, strconv.Itoa(q.Limit))
	page, ok := cache.GetJSON[neutralityPage](s.pipeline.Cache, key)
	if !ok {
		rows, total, err := st.OutletNeutrality(c.Request.Context(), q)
		if err != nil {
			s.logger.Error("outlet neutrality failed", "error", err)
			empty["error"] = err.Error()
			c.JSON(http.StatusOK, empty)
			return
		}
		page = neutralityPage{Rows: rows, Total: total}
		_ = cache.SetJSON(s.pipeline.Cache, key, page, s.pipeline.Config.Server.ReadCacheTTL)
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"min_story_count": q.MinStoryCount,
		"sort":            q.Sort,
		"total":           page.Total,
		"rows":            page.Rows,
	})
}
