package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/unclesp1d3r/cipherswarm-coordinator/internal/corekit"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/models"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/repository"
	"github.com/unclesp1d3r/cipherswarm-coordinator/pkg/version"
)

// setupAgentRoutes registers the agent surface.
func (s *Server) setupAgentRoutes(r *gin.Engine) {
	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1/client")
	v1.POST("/agents", s.registerAgentHandler) // enrollment, precedes auth

	auth := v1.Group("")
	auth.Use(s.agentAuth())
	auth.GET("/authenticate", s.authenticateHandler)
	auth.GET("/configuration", s.getConfigurationHandler)
	auth.GET("/agents/:id", s.getAgentHandler)
	auth.PUT("/agents/:id", s.updateAgentHandler)
	auth.POST("/agents/:id/heartbeat", s.heartbeatHandler)
	auth.POST("/agents/:id/submit_benchmark", s.submitBenchmarkHandler)
	auth.POST("/agents/:id/submit_error", s.submitErrorHandler)
	auth.POST("/agents/:id/shutdown", s.shutdownHandler)
	auth.GET("/tasks/new", s.requestTaskHandler)
	auth.GET("/tasks/:id", s.getTaskHandler)
	auth.POST("/tasks/:id/accept_task", s.acceptTaskHandler)
	auth.POST("/tasks/:id/submit_status", s.submitStatusHandler)
	auth.POST("/tasks/:id/submit_crack", s.submitCrackHandler)
	auth.POST("/tasks/:id/exhausted", s.markExhaustedHandler)
	auth.POST("/tasks/:id/abandon", s.abandonTaskHandler)
	auth.POST("/tasks/:id/get_zaps", s.getZapsHandler)
	auth.GET("/attacks/:id", s.getAttackHandler)
	auth.GET("/attacks/:id/hash_list", s.getHashListTextHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}

func (s *Server) registerAgentHandler(c *gin.Context) {
	var req models.RegisterAgentRequest
	if err := bindStrict(c, &req); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	agentID, token, err := s.registry.Register(c.Request.Context(), req)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"agent_id": agentID, "token": token})
}

func (s *Server) authenticateHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agent_id": currentAgentID(c), "authenticated": true})
}

func (s *Server) getConfigurationHandler(c *gin.Context) {
	cfg, err := s.registry.GetConfiguration(c.Request.Context(), currentAgentID(c))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// requireOwnAgent rejects requests where the :id path param does not match
// the bearer-authenticated caller.
func requireOwnAgent(c *gin.Context) bool {
	if c.Param("id") != currentAgentID(c) {
		writeAgentError(c, corekit.New(corekit.KindForbidden, "agent id does not match bearer token"))
		return false
	}
	return true
}

func (s *Server) getAgentHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	agent, err := s.registry.GetAgent(c.Request.Context(), currentAgentID(c))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) updateAgentHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	var patch models.UpdateAgentPatch
	if err := bindStrict(c, &patch); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	agent, err := s.registry.UpdateInfo(c.Request.Context(), currentAgentID(c), patch, false)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, agent)
}

func (s *Server) heartbeatHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	var req models.HeartbeatRequest
	_ = c.ShouldBindJSON(&req) // body is optional
	result, err := s.registry.Heartbeat(c.Request.Context(), currentAgentID(c), req.Activity)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	if result.Feedback == models.FeedbackNone {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, gin.H{"feedback": result.Feedback})
}

func (s *Server) submitBenchmarkHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	var req models.SubmitBenchmarkRequest
	if err := bindStrict(c, &req); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	benchmarks := make(map[int][]models.DeviceBenchmark)
	for _, b := range req.Benchmarks {
		benchmarks[b.HashType] = append(benchmarks[b.HashType], models.DeviceBenchmark{
			DeviceIndex: b.DeviceIndex, RuntimeMS: b.RuntimeMS, HashSpeed: b.HashSpeed,
		})
	}
	if err := s.registry.SubmitBenchmark(c.Request.Context(), currentAgentID(c), benchmarks); err != nil {
		writeAgentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitErrorHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	var req models.SubmitErrorRequest
	if err := bindStrict(c, &req); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	if err := s.registry.SubmitError(c.Request.Context(), currentAgentID(c), req); err != nil {
		writeAgentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) shutdownHandler(c *gin.Context) {
	if !requireOwnAgent(c) {
		return
	}
	if err := s.registry.Shutdown(c.Request.Context(), currentAgentID(c)); err != nil {
		writeAgentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) requestTaskHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	task, err := s.scheduler.RequestTask(ctx, currentAgentID(c))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	if task == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, task)
}

// taskForCaller loads the task by path id and confirms it belongs to the
// authenticated agent, emitting the agent-surface 403 otherwise.
func (s *Server) taskForCaller(c *gin.Context) (*models.Task, bool) {
	task, err := s.taskRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAgentError(c, err)
		return nil, false
	}
	if task.AssignedAgentID == nil || *task.AssignedAgentID != currentAgentID(c) {
		writeAgentError(c, corekit.New(corekit.KindForbidden, "task is not assigned to this agent"))
		return nil, false
	}
	return task, true
}

func (s *Server) getTaskHandler(c *gin.Context) {
	task, ok := s.taskForCaller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, task)
}

func (s *Server) acceptTaskHandler(c *gin.Context) {
	if err := s.scheduler.AcceptTask(c.Request.Context(), currentAgentID(c), c.Param("id")); err != nil {
		writeAgentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitStatusHandler(c *gin.Context) {
	var report models.StatusReport
	if err := bindStrict(c, &report); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	outcome, err := s.reconciler.SubmitStatus(c.Request.Context(), currentAgentID(c), c.Param("id"), report)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	switch outcome {
	case models.StatusOutcomeOK:
		c.Status(http.StatusNoContent)
	case models.StatusOutcomeStale:
		c.Status(http.StatusAccepted)
	case models.StatusOutcomePreempted:
		c.Status(http.StatusGone)
	case models.StatusOutcomeMalformed:
		c.Status(http.StatusUnprocessableEntity)
	}
}

func (s *Server) submitCrackHandler(c *gin.Context) {
	var req models.SubmitCrackRequest
	if err := bindStrict(c, &req); err != nil {
		writeAgentError(c, corekit.Field("body", err.Error()))
		return
	}
	outcome, err := s.ingestor.SubmitCrack(c.Request.Context(), currentAgentID(c), c.Param("id"), req)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	switch outcome {
	case models.CrackOutcomeMoreRemain, models.CrackOutcomeAlreadyCracked:
		c.JSON(http.StatusOK, gin.H{"outcome": outcome})
	case models.CrackOutcomeListComplete:
		c.Status(http.StatusNoContent)
	case models.CrackOutcomeHashNotInList:
		c.JSON(http.StatusNotFound, agentErrorBody{Error: "hash not in list"})
	}
}

func (s *Server) markExhaustedHandler(c *gin.Context) {
	if err := s.scheduler.MarkExhausted(c.Request.Context(), currentAgentID(c), c.Param("id")); err != nil {
		writeAgentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) abandonTaskHandler(c *gin.Context) {
	result, err := s.scheduler.AbandonTask(c.Request.Context(), currentAgentID(c), c.Param("id"))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": result.Success, "state": result.State})
}

func (s *Server) getZapsHandler(c *gin.Context) {
	values, err := s.ingestor.GetZaps(c.Request.Context(), currentAgentID(c), c.Param("id"))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	if len(values) == 0 {
		c.Status(http.StatusNoContent)
		return
	}
	c.String(http.StatusOK, strings.Join(values, "\n"))
}

func (s *Server) getAttackHandler(c *gin.Context) {
	attack, err := s.attackRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.JSON(http.StatusOK, attack)
}

func (s *Server) getHashListTextHandler(c *gin.Context) {
	attack, err := s.attackRead(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeAgentError(c, err)
		return
	}
	campaign, err := s.catalog.GetCampaign(c.Request.Context(), attack.CampaignID)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	lines, err := s.hashListLines(c.Request.Context(), campaign.HashListID)
	if err != nil {
		writeAgentError(c, err)
		return
	}
	c.String(http.StatusOK, strings.Join(lines, "\n"))
}

// taskRead/attackRead/hashListLines are small read helpers shared by agent
// handlers that don't warrant a Registry/Scheduler method of their own.
func (s *Server) taskRead(ctx context.Context, id string) (*models.Task, error) {
	var task *models.Task
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t, err := tx.GetTask(ctx, id)
		if err != nil {
			return err
		}
		task = t
		return nil
	})
	return task, err
}

func (s *Server) attackRead(ctx context.Context, id string) (*models.Attack, error) {
	var attack *models.Attack
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		a, err := tx.GetAttack(ctx, id)
		if err != nil {
			return err
		}
		attack = a
		return nil
	})
	return attack, err
}

func (s *Server) hashListLines(ctx context.Context, hashListID string) ([]string, error) {
	var lines []string
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		items, err := tx.ListHashItems(ctx, hashListID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if item.Salt != nil && *item.Salt != "" {
				lines = append(lines, item.HashValue+":"+*item.Salt)
			} else {
				lines = append(lines, item.HashValue)
			}
		}
		return nil
	})
	return lines, err
}
