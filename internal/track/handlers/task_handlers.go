package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/track/dto"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func (h *Handlers) createTaskList(c *gin.Context) {
	var req dto.CreateTaskListRequest
	if !h.bindJSON(c, &req) {
		return
	}
	taskList, err := h.svc.CreateTaskList(c.Request.Context(), req.RequestID, req.Name, req.WaveNumber)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, taskList)
}

func (h *Handlers) listTaskLists(c *gin.Context) {
	taskLists, err := h.svc.ListTaskLists(c.Request.Context(), c.Query("request_id"), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(taskLists, len(taskLists)))
}

func (h *Handlers) getTaskList(c *gin.Context) {
	taskList, err := h.svc.GetTaskList(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskList)
}

func (h *Handlers) updateTaskList(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	taskList, err := h.svc.UpdateTaskListStatus(c.Request.Context(),
		c.Param("id"), v1.TaskListStatus(req.Status))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, taskList)
}

func (h *Handlers) createSubtask(c *gin.Context) {
	var req dto.CreateSubtaskRequest
	if !h.bindJSON(c, &req) {
		return
	}
	subtask, err := h.svc.CreateSubtask(c.Request.Context(), &models.Subtask{
		TaskListID:  req.TaskListID,
		AgentType:   req.AgentType,
		AgentID:     req.AgentID,
		Description: req.Description,
		DependsOn:   req.DependsOn,
		Context:     req.Context,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subtask)
}

func (h *Handlers) listSubtasks(c *gin.Context) {
	subtasks, err := h.svc.ListSubtasks(c.Request.Context(),
		c.Query("task_list_id"), v1.SubtaskStatus(c.Query("status")),
		c.Query("agent_type"), c.Query("agent_id"), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(subtasks, len(subtasks)))
}

func (h *Handlers) getSubtask(c *gin.Context) {
	subtask, err := h.svc.GetSubtask(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subtask)
}

func (h *Handlers) updateSubtask(c *gin.Context) {
	var req dto.UpdateStatusRequest
	if !h.bindJSON(c, &req) {
		return
	}
	subtask, err := h.svc.UpdateSubtaskStatus(c.Request.Context(),
		c.Param("id"), v1.SubtaskStatus(req.Status), req.Result)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, subtask)
}

// hierarchy returns the project's full request/wave/subtask tree.
func (h *Handlers) hierarchy(c *gin.Context) {
	node, err := h.svc.GetHierarchy(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}
