package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/track/dto"
)

// health reports process and database liveness. A failing database
// degrades the response instead of failing it.
func (h *Handlers) health(c *gin.Context) {
	mode := config.ModeProduction
	if h.development {
		mode = config.ModeDevelopment
	}
	resp := dto.HealthResponse{
		Status:    "ok",
		Database:  "ok",
		Mode:      mode,
		Timestamp: time.Now().UTC(),
	}
	if err := h.svc.Repository().Ping(c.Request.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "unavailable"
	}
	c.JSON(http.StatusOK, resp)
}

// stats returns per-table row counts.
func (h *Handlers) stats(c *gin.Context) {
	counts, err := h.svc.DatabaseCounts(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counts": counts})
}

func (h *Handlers) toolsSummary(c *gin.Context) {
	summary, err := h.svc.ToolsSummary(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(summary, len(summary)))
}

func (h *Handlers) sessionStats(c *gin.Context) {
	rows, err := h.svc.SessionStats(c.Request.Context(), queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(rows, len(rows)))
}

// activeSessions returns open sessions annotated with the sweep
// worker's inactivity flags.
func (h *Handlers) activeSessions(c *gin.Context) {
	views, err := h.svc.ActiveSessions(c.Request.Context(), h.checker, queryLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewList(views, len(views)))
}

// cleanupStats reports pending cleanup volume under the configured
// thresholds.
func (h *Handlers) cleanupStats(c *gin.Context) {
	stats, err := h.svc.CleanupStats(c.Request.Context(),
		h.cleanup.ReadMessageMax, h.cleanup.SnapshotMax, h.cleanup.SessionStale)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
