// Package workers holds the interval-driven background jobs: message
// expiry, snapshot age-out, stale-session sweeps, and metric snapshot
// broadcasts. Worker errors are logged and the next tick proceeds;
// they never terminate the process.
package workers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/track/service"
)

// Cleanup deletes expired and aged-out rows and sweeps sessions: no
// actions for the inactive window flags the session inactive (an
// in-memory view only); past the stale window the session is ended.
type Cleanup struct {
	svc    *service.Service
	cfg    config.CleanupConfig
	logger *logger.Logger

	mu       sync.RWMutex
	inactive map[string]bool
}

// NewCleanup creates the cleanup worker. Zero thresholds fall back to
// the documented defaults (60s tick, 24h message/snapshot age, 10min
// inactive, 30min stale).
func NewCleanup(svc *service.Service, cfg config.CleanupConfig, log *logger.Logger) *Cleanup {
	if cfg.Interval <= 0 {
		cfg.Interval = 60
	}
	if cfg.ReadMessageMax <= 0 {
		cfg.ReadMessageMax = 24
	}
	if cfg.SnapshotMax <= 0 {
		cfg.SnapshotMax = 24
	}
	if cfg.SessionInactive <= 0 {
		cfg.SessionInactive = 10
	}
	if cfg.SessionStale <= 0 {
		cfg.SessionStale = 30
	}
	return &Cleanup{
		svc:      svc,
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "cleanup_worker")),
		inactive: make(map[string]bool),
	}
}

// IsInactive implements service.InactivityChecker.
func (c *Cleanup) IsInactive(sessionID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inactive[sessionID]
}

// Run sweeps on the configured interval until the context is
// cancelled.
func (c *Cleanup) Run(ctx context.Context) {
	c.logger.Info("cleanup worker started",
		zap.Int("interval_seconds", c.cfg.Interval))
	defer c.logger.Info("cleanup worker stopped")

	ticker := time.NewTicker(c.cfg.IntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

// sweep runs one cleanup pass.
func (c *Cleanup) sweep(ctx context.Context) {
	repo := c.svc.Repository()

	if n, err := repo.DeleteExpiredMessages(ctx); err != nil {
		c.logger.Error("failed to delete expired messages", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("deleted expired messages", zap.Int64("count", n))
	}

	if n, err := repo.DeleteReadMessagesOlderThan(ctx, c.cfg.ReadMessageMax); err != nil {
		c.logger.Error("failed to delete old read messages", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("deleted old read messages", zap.Int64("count", n))
	}

	if n, err := repo.DeleteOldSnapshots(ctx, c.cfg.SnapshotMax); err != nil {
		c.logger.Error("failed to delete old snapshots", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("deleted old snapshots", zap.Int64("count", n))
	}

	c.sweepSessions(ctx, time.Now().UTC())
}

// sweepSessions refreshes the inactive set and ends stale sessions.
func (c *Cleanup) sweepSessions(ctx context.Context, now time.Time) {
	repo := c.svc.Repository()

	inactiveIDs, err := repo.StaleSessionIDs(ctx,
		now.Add(-time.Duration(c.cfg.SessionInactive)*time.Minute))
	if err != nil {
		c.logger.Error("failed to list inactive sessions", zap.Error(err))
		return
	}
	flags := make(map[string]bool, len(inactiveIDs))
	for _, id := range inactiveIDs {
		flags[id] = true
	}
	c.mu.Lock()
	c.inactive = flags
	c.mu.Unlock()

	staleIDs, err := repo.StaleSessionIDs(ctx,
		now.Add(-time.Duration(c.cfg.SessionStale)*time.Minute))
	if err != nil {
		c.logger.Error("failed to list stale sessions", zap.Error(err))
		return
	}
	for _, id := range staleIDs {
		if _, err := c.svc.EndSession(ctx, id); err != nil {
			c.logger.Error("failed to end stale session",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		c.logger.Info("ended stale session", zap.String("session_id", id))
	}
}
