package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/track/dto"
)

// issueToken signs a realtime credential for the agent. Issuance is
// rate limited per source address.
func (h *Handlers) issueToken(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
		return
	}

	var req dto.TokenRequest
	if !h.bindJSON(c, &req) {
		return
	}
	if req.AgentID == "" {
		respondValidation(c, "agent_id", "is required")
		return
	}

	token, claims, err := h.signer.Issue(req.AgentID, req.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.TokenResponse{
		Token:     token,
		AgentID:   claims.AgentID,
		SessionID: claims.SessionID,
		ExpiresAt: claims.ExpiresAt,
	})
}
