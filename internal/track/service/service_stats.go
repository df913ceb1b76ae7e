package service

import (
	"context"

	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
)

// DatabaseCounts returns per-table row counts for /stats.
func (s *Service) DatabaseCounts(ctx context.Context) (map[string]int, error) {
	return s.repo.DatabaseCounts(ctx)
}

// ToolsSummary returns per-tool usage aggregates over actions.
func (s *Service) ToolsSummary(ctx context.Context) ([]*repository.ToolSummaryRow, error) {
	return s.repo.ToolsSummary(ctx)
}

// SessionStats returns per-session tool totals and error rates.
func (s *Service) SessionStats(ctx context.Context, limit int) ([]*repository.SessionStatsRow, error) {
	return s.repo.SessionStats(ctx, limit)
}

// CleanupStats reports pending cleanup volume.
func (s *Service) CleanupStats(ctx context.Context, readMessageMaxHours, snapshotMaxHours, staleMinutes int) (*repository.CleanupStats, error) {
	return s.repo.GetCleanupStats(ctx, readMessageMaxHours, snapshotMaxHours, staleMinutes)
}

// ActiveSessionView is a session plus the stale-sweep worker's
// in-memory inactivity flag.
type ActiveSessionView struct {
	Session  *models.Session `json:"session"`
	Inactive bool            `json:"inactive"`
}

// InactivityChecker reports whether a session has been flagged
// inactive by the stale-session sweep.
type InactivityChecker interface {
	IsInactive(sessionID string) bool
}

// ActiveSessions returns sessions without an end stamp, annotated with
// the worker's inactivity flags. A nil checker leaves all flags false.
func (s *Service) ActiveSessions(ctx context.Context, checker InactivityChecker, limit int) ([]*ActiveSessionView, error) {
	sessions, err := s.repo.ListSessions(ctx, true, limit)
	if err != nil {
		return nil, err
	}
	views := make([]*ActiveSessionView, 0, len(sessions))
	for _, session := range sessions {
		view := &ActiveSessionView{Session: session}
		if checker != nil {
			view.Inactive = checker.IsInactive(session.ID)
		}
		views = append(views, view)
	}
	return views, nil
}
