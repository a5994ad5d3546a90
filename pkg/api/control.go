package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
)

// setupControlRoutes registers the control surface: /api/v1/control/...,
// bulk operations, RFC9457 errors.
func (s *Server) setupControlRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1/control")
	v1.Use(s.controlAuth())

	v1.POST("/campaigns/start", s.bulkStartHandler)
	v1.POST("/campaigns/stop", s.bulkPauseHandler)
	v1.POST("/campaigns/status", s.bulkStatusHandler)
}

type bulkCampaignRequest struct {
	CampaignIDs []string `json:"campaign_ids" binding:"required,min=1"`
}

type bulkResult struct {
	CampaignID string `json:"campaign_id"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) bulkStartHandler(c *gin.Context) {
	var req bulkCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeControlError(c, corekit.Field("campaign_ids", err.Error()))
		return
	}
	results := make([]bulkResult, 0, len(req.CampaignIDs))
	for _, id := range req.CampaignIDs {
		if err := s.catalog.StartCampaign(c.Request.Context(), id); err != nil {
			results = append(results, bulkResult{CampaignID: id, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, bulkResult{CampaignID: id, Status: "started"})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) bulkPauseHandler(c *gin.Context) {
	var req bulkCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeControlError(c, corekit.Field("campaign_ids", err.Error()))
		return
	}
	results := make([]bulkResult, 0, len(req.CampaignIDs))
	for _, id := range req.CampaignIDs {
		if err := s.scheduler.PauseCampaign(c.Request.Context(), id); err != nil {
			results = append(results, bulkResult{CampaignID: id, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, bulkResult{CampaignID: id, Status: "paused"})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) bulkStatusHandler(c *gin.Context) {
	var req bulkCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeControlError(c, corekit.Field("campaign_ids", err.Error()))
		return
	}
	results := make([]bulkResult, 0, len(req.CampaignIDs))
	for _, id := range req.CampaignIDs {
		campaign, err := s.catalog.GetCampaign(c.Request.Context(), id)
		if err != nil {
			results = append(results, bulkResult{CampaignID: id, Status: "error", Error: err.Error()})
			continue
		}
		results = append(results, bulkResult{CampaignID: id, Status: string(campaign.State)})
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}
