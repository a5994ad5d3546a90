package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/events"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
)

// setupWebRoutes registers the web UI surface.
// CRUD handlers are thin wrappers around Catalog/Scheduler; SSE streams fan
// out from the in-process Broadcaster fed by the Event Emitter.
func (s *Server) setupWebRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1/web")
	v1.Use(s.webAuth())

	v1.POST("/campaigns", s.createCampaignHandler)
	v1.GET("/campaigns/:id", s.getCampaignHandler)
	v1.POST("/campaigns/:id/start", s.startCampaignHandler)
	v1.POST("/campaigns/:id/pause", s.pauseCampaignWebHandler)
	v1.POST("/campaigns/:id/resume", s.resumeCampaignWebHandler)

	v1.GET("/campaigns/:id/attacks", s.listAttacksHandler)
	v1.POST("/campaigns/:id/attacks", s.createAttackHandler)

	v1.GET("/hash_lists/:id", s.getHashListHandler)

	v1.GET("/live/campaigns", s.liveStreamHandler(events.KindCampaign))
	v1.GET("/live/agents", s.liveStreamHandler(events.KindAgent))
	v1.GET("/live/toasts", s.liveStreamHandler(events.KindTask, events.KindCrack))
}

func (s *Server) createCampaignHandler(c *gin.Context) {
	var req models.CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeWebError(c, corekit.Field("body", err.Error()))
		return
	}
	campaign, err := s.catalog.CreateCampaign(c.Request.Context(), req)
	if err != nil {
		writeWebError(c, err)
		return
	}
	c.JSON(http.StatusCreated, campaign)
}

func (s *Server) getCampaignHandler(c *gin.Context) {
	campaign, err := s.catalog.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeWebError(c, err)
		return
	}
	c.JSON(http.StatusOK, campaign)
}

func (s *Server) startCampaignHandler(c *gin.Context) {
	if err := s.catalog.StartCampaign(c.Request.Context(), c.Param("id")); err != nil {
		writeWebError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) pauseCampaignWebHandler(c *gin.Context) {
	if err := s.scheduler.PauseCampaign(c.Request.Context(), c.Param("id")); err != nil {
		writeWebError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) resumeCampaignWebHandler(c *gin.Context) {
	if err := s.scheduler.ResumeCampaign(c.Request.Context(), c.Param("id")); err != nil {
		writeWebError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listAttacksHandler(c *gin.Context) {
	attacks, err := s.catalog.ListAttacks(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeWebError(c, err)
		return
	}
	c.JSON(http.StatusOK, attacks)
}

func (s *Server) createAttackHandler(c *gin.Context) {
	var req struct {
		models.CreateAttackRequest
		TotalKeyspace   uint64  `json:"total_keyspace"`
		ComplexityScore float64 `json:"complexity_score"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeWebError(c, corekit.Field("body", err.Error()))
		return
	}
	attack, err := s.catalog.CreateAttack(c.Request.Context(), c.Param("id"), req.CreateAttackRequest, req.TotalKeyspace, req.ComplexityScore)
	if err != nil {
		writeWebError(c, err)
		return
	}
	c.JSON(http.StatusCreated, attack)
}

func (s *Server) getHashListHandler(c *gin.Context) {
	hl, err := s.catalog.GetHashList(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeWebError(c, err)
		return
	}
	c.JSON(http.StatusOK, hl)
}

// liveStreamHandler serves an SSE stream of Broadcaster events filtered to
// the given kinds over a long-lived text/event-stream response.
func (s *Server) liveStreamHandler(kinds ...events.Kind) gin.HandlerFunc {
	want := make(map[events.Kind]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	return func(c *gin.Context) {
		ch, cancel := s.broadcaster.Subscribe(16)
		defer cancel()

		c.Writer.Header().Set("Content-Type", "text/event-stream")
		c.Writer.Header().Set("Cache-Control", "no-cache")
		c.Writer.Header().Set("Connection", "keep-alive")

		ctx := c.Request.Context()
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()

		c.Stream(func(w io.Writer) bool {
			select {
			case <-ctx.Done():
				return false
			case <-ticker.C:
				c.SSEvent("ping", "")
				return true
			case ev, ok := <-ch:
				if !ok {
					return false
				}
				if len(want) > 0 && !want[ev.Kind] {
					return true
				}
				c.SSEvent(string(ev.Kind), ev)
				return true
			}
		})
	}
}
