package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/track/dto"
	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// sendMessage publishes a durable agent message. A zero TTL falls back
// to the configured default; zero there too means no expiration.
func (h *Handlers) sendMessage(c *gin.Context) {
	var req dto.SendMessageRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.TTLSeconds <= 0 {
		req.TTLSeconds = h.cleanup.MessageTTL
	}
	message, err := h.svc.SendMessage(c.Request.Context(), &models.AgentMessage{
		ProjectID:   req.ProjectID,
		FromAgent:   req.FromAgent,
		ToAgent:     req.ToAgent,
		Topic:       req.Topic,
		MessageType: v1.MessageType(req.MessageType),
		Payload:     req.Payload,
		Priority:    req.Priority,
	}, req.TTLSeconds)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, message)
}

// listMessagesForAgent returns the agent's messages, unread-only by
// default.
func (h *Handlers) listMessagesForAgent(c *gin.Context) {
	unreadOnly := c.DefaultQuery("unread", "true") != "false"
	messages, err := h.svc.ListMessagesForAgent(c.Request.Context(),
		c.Param("id"), unreadOnly, queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(messages, len(messages)))
}

func (h *Handlers) markMessageRead(c *gin.Context) {
	var req dto.MarkReadRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.AgentID == "" {
		respondValidation(c, "agent_id", "is required")
		return
	}
	message, err := h.svc.MarkMessageRead(c.Request.Context(), c.Param("id"), req.AgentID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, message)
}

func (h *Handlers) subscribe(c *gin.Context) {
	var req dto.SubscribeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	subscription, err := h.svc.Subscribe(c.Request.Context(), req.AgentID, req.Topic)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, subscription)
}

func (h *Handlers) unsubscribe(c *gin.Context) {
	var req dto.SubscribeRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := h.svc.Unsubscribe(c.Request.Context(), req.AgentID, req.Topic); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unsubscribed": true})
}

func (h *Handlers) listSubscriptions(c *gin.Context) {
	subscriptions, err := h.svc.ListSubscriptions(c.Request.Context(), c.Query("agent_id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(subscriptions, len(subscriptions)))
}

func (h *Handlers) listSubscriptionsForAgent(c *gin.Context) {
	subscriptions, err := h.svc.ListSubscriptions(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(subscriptions, len(subscriptions)))
}

func (h *Handlers) deleteSubscription(c *gin.Context) {
	if err := h.svc.DeleteSubscription(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *Handlers) createBlocking(c *gin.Context) {
	var req dto.BlockRequest
	if !h.bindJSON(c, &req) {
		return
	}
	blocking, err := h.svc.Block(c.Request.Context(), req.BlockerID, req.BlockedID, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, blocking)
}

// removeBlocking unblocks a pair. Removing a pair that does not exist
// succeeds without effect.
func (h *Handlers) removeBlocking(c *gin.Context) {
	var req dto.UnblockRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if err := h.svc.Unblock(c.Request.Context(), req.BlockerID, req.BlockedID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unblocked": true})
}

func (h *Handlers) listBlockingsForAgent(c *gin.Context) {
	blockings, err := h.svc.ListBlockingsForAgent(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(blockings, len(blockings)))
}

// checkBlocked reports whether blocked is blocked, by the named
// blocker or, when blocker is empty, by anyone.
func (h *Handlers) checkBlocked(c *gin.Context) {
	blocked := c.Query("blocked")
	if blocked == "" {
		respondValidation(c, "blocked", "is required")
		return
	}
	isBlocked, err := h.svc.CheckBlocked(c.Request.Context(), c.Query("blocker"), blocked)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"blocked": isBlocked})
}

func (h *Handlers) deleteBlocking(c *gin.Context) {
	if err := h.svc.UnblockByID(c.Request.Context(), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// suggestTools ranks tools for a comma-separated keyword list.
func (h *Handlers) suggestTools(c *gin.Context) {
	raw := c.Query("keywords")
	if raw == "" {
		respondValidation(c, "keywords", "is required")
		return
	}
	var keywords []string
	for _, keyword := range strings.Split(raw, ",") {
		if keyword = strings.TrimSpace(keyword); keyword != "" {
			keywords = append(keywords, keyword)
		}
	}
	suggestions, err := h.svc.SuggestTools(c.Request.Context(),
		keywords, v1.ToolType(c.Query("tool_type")), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(suggestions, len(suggestions)))
}

func (h *Handlers) routingStats(c *gin.Context) {
	stats, err := h.svc.GetRoutingStats(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handlers) routingFeedback(c *gin.Context) {
	var req dto.RoutingFeedbackRequest
	if !h.bindJSON(c, &req) {
		return
	}
	score, err := h.svc.ApplyRoutingFeedback(c.Request.Context(),
		req.Keyword, req.ToolName, v1.ToolType(req.ToolType), req.Delta, req.Success)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, score)
}
