package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/track/dto"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func (h *Handlers) recordAction(c *gin.Context) {
	var req dto.CreateActionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	action, err := h.svc.RecordAction(c.Request.Context(), &models.Action{
		SubtaskID:  req.SubtaskID,
		ToolName:   req.ToolName,
		ToolType:   v1.ToolType(req.ToolType),
		FilePaths:  req.FilePaths,
		ExitCode:   req.ExitCode,
		DurationMs: req.DurationMs,
		Metadata:   req.Metadata,
	}, []byte(req.Input), []byte(req.Output))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.FromAction(action, []byte(req.Input), []byte(req.Output)))
}

func (h *Handlers) listActions(c *gin.Context) {
	ctx := c.Request.Context()
	actions, err := h.svc.ListActions(ctx,
		c.Query("subtask_id"), c.Query("tool_name"),
		v1.ToolType(c.Query("tool_type")), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}

	items := make([]dto.ActionDTO, 0, len(actions))
	for _, action := range actions {
		input, output, err := h.svc.ActionBlobs(action)
		if err != nil {
			h.respondError(c, err)
			return
		}
		items = append(items, dto.FromAction(action, input, output))
	}
	c.JSON(http.StatusOK, dto.NewList(items, len(items)))
}

// hourlyActions returns per-hour action counts for the query window.
func (h *Handlers) hourlyActions(c *gin.Context) {
	hours, err := strconv.Atoi(c.DefaultQuery("hours", "24"))
	if err != nil || hours <= 0 {
		hours = 24
	}
	buckets, err := h.svc.HourlyActionCounts(c.Request.Context(), hours)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(buckets, len(buckets)))
}
