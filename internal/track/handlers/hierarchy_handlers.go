package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/track/dto"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// createProject upserts a project by path. 201 when the row was
// created, 200 when the existing row was returned.
func (h *Handlers) createProject(c *gin.Context) {
	var req dto.CreateProjectRequest
	if !h.bindJSON(c, &req) {
		return
	}
	project, created, err := h.svc.UpsertProject(c.Request.Context(), req.Path, req.Name, req.Metadata)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.ProjectResponse{Project: project, Created: created})
}

func (h *Handlers) listProjects(c *gin.Context) {
	projects, err := h.svc.ListProjects(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(projects, len(projects)))
}

// getProject returns the project with its requests embedded.
func (h *Handlers) getProject(c *gin.Context) {
	ctx := c.Request.Context()
	project, err := h.svc.GetProject(ctx, c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	requests, err := h.svc.ListRequests(ctx, "", project.ID, "", defaultListLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.ProjectDetail{Project: project, Requests: requests})
}

func (h *Handlers) getProjectByPath(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		respondValidation(c, "path", "is required")
		return
	}
	project, err := h.svc.GetProjectByPath(c.Request.Context(), path)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

// createSession registers a session under its hook-supplied id.
func (h *Handlers) createSession(c *gin.Context) {
	var req dto.CreateSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	session, err := h.svc.StartSession(c.Request.Context(), req.SessionID, req.ProjectID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (h *Handlers) listSessions(c *gin.Context) {
	activeOnly := c.Query("active") == "true"
	sessions, err := h.svc.ListSessions(c.Request.Context(), activeOnly, queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(sessions, len(sessions)))
}

func (h *Handlers) getSession(c *gin.Context) {
	session, err := h.svc.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// updateSession accumulates a tool use and/or ends the session.
func (h *Handlers) updateSession(c *gin.Context) {
	var req dto.UpdateSessionRequest
	if !h.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	if req.ToolUsed {
		success := req.Success == nil || *req.Success
		if _, err := h.svc.RecordSessionToolUse(ctx, id, success); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Ended {
		session, err := h.svc.EndSession(ctx, id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, session)
		return
	}
	session, err := h.svc.GetSession(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handlers) createRequest(c *gin.Context) {
	var req dto.CreateRequestRequest
	if !h.bindJSON(c, &req) {
		return
	}
	request, err := h.svc.CreateRequest(c.Request.Context(),
		req.ProjectID, req.SessionID, req.Prompt, v1.PromptType(req.PromptType), req.Metadata)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, request)
}

func (h *Handlers) listRequests(c *gin.Context) {
	requests, err := h.svc.ListRequests(c.Request.Context(),
		c.Query("session_id"), c.Query("project_id"),
		v1.RequestStatus(c.Query("status")), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(requests, len(requests)))
}

func (h *Handlers) getRequest(c *gin.Context) {
	request, err := h.svc.GetRequest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}

// updateRequest completes the request and/or replaces its metadata.
func (h *Handlers) updateRequest(c *gin.Context) {
	var req dto.UpdateRequestRequest
	if !h.bindJSON(c, &req) {
		return
	}
	ctx := c.Request.Context()
	id := c.Param("id")

	if req.Metadata != nil {
		if _, err := h.svc.UpdateRequestMetadata(ctx, id, req.Metadata); err != nil {
			h.respondError(c, err)
			return
		}
	}
	if req.Status != "" {
		if req.Status != string(v1.RequestStatusCompleted) {
			respondValidation(c, "status", "must be completed")
			return
		}
		request, err := h.svc.CompleteRequest(ctx, id)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, request)
		return
	}
	request, err := h.svc.GetRequest(ctx, id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, request)
}
