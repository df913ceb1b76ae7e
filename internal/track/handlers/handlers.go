// Package handlers exposes the contextd HTTP API: the ingestion
// hierarchy, coordination primitives, context generation, and the
// operational stats endpoints.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/auth"
	"github.com/contextd/contextd/internal/brief"
	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/track/service"
)

const defaultListLimit = 100

// Handlers binds the HTTP surface to the service layer.
type Handlers struct {
	svc         *service.Service
	generator   *brief.Generator
	compacter   *brief.Compacter
	signer      *auth.Signer
	limiter     *auth.RateLimiter
	checker     service.InactivityChecker
	cleanup     config.CleanupConfig
	development bool
	logger      *logger.Logger
}

// New creates the handler set. The checker may be nil, in which case
// active-session views carry no inactivity flags.
func New(
	svc *service.Service,
	generator *brief.Generator,
	compacter *brief.Compacter,
	signer *auth.Signer,
	limiter *auth.RateLimiter,
	checker service.InactivityChecker,
	cleanup config.CleanupConfig,
	development bool,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		svc:         svc,
		generator:   generator,
		compacter:   compacter,
		signer:      signer,
		limiter:     limiter,
		checker:     checker,
		cleanup:     cleanup,
		development: development,
		logger:      log,
	}
}

// RegisterRoutes mounts the API surface on the engine.
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.health)
	r.GET("/stats", h.stats)
	r.GET("/stats/tools-summary", h.toolsSummary)

	api := r.Group("/api")

	api.POST("/projects", h.createProject)
	api.GET("/projects", h.listProjects)
	api.GET("/projects/by-path", h.getProjectByPath)
	api.GET("/projects/:id", h.getProject)

	api.POST("/sessions", h.createSession)
	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/stats", h.sessionStats)
	api.GET("/sessions/:id", h.getSession)
	api.PATCH("/sessions/:id", h.updateSession)

	api.POST("/requests", h.createRequest)
	api.GET("/requests", h.listRequests)
	api.GET("/requests/:id", h.getRequest)
	api.PATCH("/requests/:id", h.updateRequest)

	api.POST("/tasks", h.createTaskList)
	api.GET("/tasks", h.listTaskLists)
	api.GET("/tasks/:id", h.getTaskList)
	api.PATCH("/tasks/:id", h.updateTaskList)

	api.POST("/subtasks", h.createSubtask)
	api.GET("/subtasks", h.listSubtasks)
	api.GET("/subtasks/:id", h.getSubtask)
	api.PATCH("/subtasks/:id", h.updateSubtask)

	api.POST("/actions", h.recordAction)
	api.GET("/actions", h.listActions)
	api.GET("/actions/hourly", h.hourlyActions)

	// GET takes an agent id, POST .../read a message id. Gin requires
	// one wildcard name per segment, hence the generic :id.
	api.POST("/messages", h.sendMessage)
	api.GET("/messages/:id", h.listMessagesForAgent)
	api.POST("/messages/:id/read", h.markMessageRead)

	api.POST("/subscribe", h.subscribe)
	api.POST("/unsubscribe", h.unsubscribe)
	api.GET("/subscriptions", h.listSubscriptions)
	api.GET("/subscriptions/:id", h.listSubscriptionsForAgent)
	api.DELETE("/subscriptions/:id", h.deleteSubscription)

	api.POST("/blocking", h.createBlocking)
	api.POST("/unblock", h.removeBlocking)
	api.GET("/blocking/check", h.checkBlocked)
	api.GET("/blocking/:id", h.listBlockingsForAgent)
	api.DELETE("/blocking/:id", h.deleteBlocking)

	api.GET("/routing/suggest", h.suggestTools)
	api.GET("/routing/stats", h.routingStats)
	api.POST("/routing/feedback", h.routingFeedback)

	api.GET("/hierarchy/:id", h.hierarchy)
	api.GET("/active-sessions", h.activeSessions)

	api.POST("/context", h.upsertContext)
	api.POST("/context/generate", h.generateBrief)
	api.GET("/context/:id", h.getContext)

	api.POST("/compact/save", h.compactSave)
	api.POST("/compact/restore", h.compactRestore)
	api.GET("/compact/status/:id", h.compactStatus)
	api.GET("/compact/snapshot/:id", h.compactSnapshot)

	api.GET("/cleanup/stats", h.cleanupStats)

	api.POST("/auth/token", h.issueToken)
}

// bindJSON decodes the request body, answering 400 on malformed input.
func (h *Handlers) bindJSON(c *gin.Context, out interface{}) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Validation failed",
			"details": gin.H{"body": "must be valid JSON"},
		})
		return false
	}
	return true
}

// queryLimit parses the limit query parameter with a bounded default.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", ""))
	if err != nil || limit <= 0 {
		return defaultListLimit
	}
	return limit
}
