package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/brief"
	"github.com/contextd/contextd/internal/track/dto"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func (h *Handlers) upsertContext(c *gin.Context) {
	var req dto.UpsertContextRequest
	if !h.bindJSON(c, &req) {
		return
	}
	agentContext, err := h.svc.UpsertAgentContext(c.Request.Context(), &models.AgentContext{
		ProjectID:       req.ProjectID,
		AgentID:         req.AgentID,
		AgentType:       req.AgentType,
		RoleContext:     req.RoleContext,
		SkillsToRestore: req.SkillsToRestore,
		ToolsUsed:       req.ToolsUsed,
		Progress:        req.Progress,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentContext)
}

// getContext returns an agent's persistent state within a project.
func (h *Handlers) getContext(c *gin.Context) {
	projectID := c.Query("project_id")
	if projectID == "" {
		respondValidation(c, "project_id", "is required")
		return
	}
	agentContext, err := h.svc.GetAgentContext(c.Request.Context(), projectID, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, agentContext)
}

// generateBrief renders a token-bounded brief for the agent.
func (h *Handlers) generateBrief(c *gin.Context) {
	var req dto.GenerateBriefRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.AgentID == "" {
		respondValidation(c, "agent_id", "is required")
		return
	}
	result, err := h.generator.Generate(c.Request.Context(), brief.Options{
		AgentID:   req.AgentID,
		SessionID: req.SessionID,
		AgentType: req.AgentType,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) compactSave(c *gin.Context) {
	var req dto.CompactSaveRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		respondValidation(c, "session_id", "is required")
		return
	}
	trigger := v1.CompactTrigger(req.Trigger)
	if !v1.ValidCompactTrigger(trigger) {
		respondValidation(c, "trigger", "must be one of auto, manual, proactive")
		return
	}
	result, err := h.compacter.Save(c.Request.Context(), req.SessionID, trigger)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) compactRestore(c *gin.Context) {
	var req dto.CompactRestoreRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		respondValidation(c, "session_id", "is required")
		return
	}
	result, err := h.compacter.Restore(c.Request.Context(),
		req.SessionID, req.AgentID, req.AgentType, req.MaxTokens)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handlers) compactStatus(c *gin.Context) {
	status, err := h.compacter.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (h *Handlers) compactSnapshot(c *gin.Context) {
	snapshot, err := h.compacter.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}
