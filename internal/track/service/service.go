// Package service implements the business rules of the ingestion and
// query API: validation against the closed category sets, transaction
// boundaries via the repository, and best-effort wake-channel emission
// after every successful mutation.
package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/repository"
)

// ValidationError carries per-field detail for a rejected input.
type ValidationError struct {
	Fields map[string]string
}

// Error implements error with a stable summary line.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

// invalid builds a single-field validation error.
func invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: fmt.Sprintf(format, args...)}}
}

// Service provides contextd business logic over the repository.
type Service struct {
	repo     *repository.Repository
	notifier events.Notifier
	logger   *logger.Logger
}

// NewService creates the service. The notifier may be nil, in which
// case mutations are durable but produce no realtime events.
func NewService(repo *repository.Repository, notifier events.Notifier, log *logger.Logger) *Service {
	return &Service{repo: repo, notifier: notifier, logger: log}
}

// Repository exposes the underlying store for read-only collaborators
// (brief generator, workers).
func (s *Service) Repository() *repository.Repository { return s.repo }

// emit publishes a wake-channel envelope after a successful mutation.
// Emission failures are logged and swallowed; the originating call has
// already succeeded.
func (s *Service) emit(ctx context.Context, channel, event string, data map[string]interface{}) {
	if s.notifier == nil {
		return
	}
	env := events.NewEnvelope(channel, event, data)
	if err := s.notifier.Notify(ctx, env); err != nil {
		s.logger.Warn("wake-channel emission dropped",
			zap.String("event", event),
			zap.String("channel", channel),
			zap.Error(err))
	}
}
