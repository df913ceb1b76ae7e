package workers

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

// Metrics periodically aggregates store counters and broadcasts a
// metric.update on the metrics channel.
type Metrics struct {
	repo     *repository.Repository
	notifier events.Notifier
	interval time.Duration
	logger   *logger.Logger
}

// NewMetrics creates the metric-snapshot worker. A non-positive
// interval defaults to five seconds.
func NewMetrics(repo *repository.Repository, notifier events.Notifier, interval time.Duration, log *logger.Logger) *Metrics {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Metrics{
		repo:     repo,
		notifier: notifier,
		interval: interval,
		logger:   log.WithFields(zap.String("component", "metrics_worker")),
	}
}

// Run broadcasts snapshots on the interval until cancelled.
func (m *Metrics) Run(ctx context.Context) {
	m.logger.Info("metrics worker started", zap.Duration("interval", m.interval))
	defer m.logger.Info("metrics worker stopped")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.publish(ctx)
		}
	}
}

// publish aggregates one snapshot and emits it. Failures log and wait
// for the next tick.
func (m *Metrics) publish(ctx context.Context) {
	snapshot, err := m.snapshot(ctx)
	if err != nil {
		m.logger.Error("failed to aggregate metric snapshot", zap.Error(err))
		return
	}

	env := events.NewEnvelope(realtime.ChannelMetrics, events.MetricUpdate, map[string]interface{}{
		"active_sessions":      snapshot.ActiveSessions,
		"active_agents":        snapshot.ActiveAgents,
		"pending_tasks":        snapshot.PendingTasks,
		"running_tasks":        snapshot.RunningTasks,
		"completed_last_hour":  snapshot.CompletedLastHour,
		"messages_last_hour":   snapshot.MessagesLastHour,
		"actions_per_minute":   snapshot.ActionsPerMinute,
		"avg_task_duration_ms": snapshot.AvgTaskDurationMs,
	})
	if err := m.notifier.Notify(ctx, env); err != nil {
		m.logger.Warn("metric snapshot emission dropped", zap.Error(err))
	}
}

// snapshot runs the aggregation queries in parallel.
func (m *Metrics) snapshot(ctx context.Context) (*repository.MetricSnapshot, error) {
	snapshot := &repository.MetricSnapshot{}
	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() (err error) {
		snapshot.ActiveSessions, err = m.repo.CountActiveSessions(gctx)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.ActiveAgents, err = m.repo.CountActiveAgents(gctx)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.PendingTasks, err = m.repo.CountSubtasksByStatus(gctx, v1.SubtaskStatusPending)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.RunningTasks, err = m.repo.CountSubtasksByStatus(gctx, v1.SubtaskStatusRunning)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.CompletedLastHour, snapshot.MessagesLastHour, err = m.repo.CompletedLastHour(gctx)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.ActionsPerMinute, err = m.repo.ActionsPerMinute(gctx)
		return err
	})
	eg.Go(func() (err error) {
		snapshot.AvgTaskDurationMs, err = m.repo.AvgTaskDurationMs(gctx)
		return err
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return snapshot, nil
}
