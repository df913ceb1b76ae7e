// Package brief assembles token-bounded textual briefs for agents
// from six live data sources, and implements the compact-cycle
// save/restore pipeline on top of them.
package brief

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// Relevance scores used to order entries within sections.
const (
	relevanceRunningTask = 1.0
	relevancePendingTask = 0.8
	relevanceHighMessage = 1.0
	relevanceLowMessage  = 0.6
	relevanceBlocking    = 0.9
	relevanceAction      = 0.7
	relevanceSession     = 0.8
	relevanceProject     = 0.7

	highMessagePriority  = 5
	defaultRecentActions = 10
	restoreRecentActions = 15
)

// Options selects what to brief and under which budget.
type Options struct {
	AgentID   string
	SessionID string
	AgentType string
	MaxTokens int
	// RecentActions overrides the default action window (the restore
	// path reads fifteen instead of ten).
	RecentActions int
}

// Source is a reference to a record consulted while generating.
type Source struct {
	Type      string  `json:"type"`
	ID        string  `json:"id"`
	Relevance float64 `json:"relevance"`
}

// Result is a generated brief.
type Result struct {
	Text      string   `json:"text"`
	Tokens    int      `json:"tokens"`
	Truncated bool     `json:"truncated"`
	Sources   []Source `json:"sources"`
}

// Generator reads the store and renders briefs.
type Generator struct {
	repo   *repository.Repository
	logger *logger.Logger
}

// NewGenerator creates a Generator.
func NewGenerator(repo *repository.Repository, log *logger.Logger) *Generator {
	return &Generator{repo: repo, logger: log}
}

// briefData is everything the templates render, gathered in parallel.
type briefData struct {
	subtasks  []*models.Subtask
	messages  []*models.AgentMessage
	blockings []*models.Blocking
	actions   []*models.Action
	request   *models.Request
	project   *models.Project
	// extra holds supplementary context injected by the restore path.
	extra string
}

// Generate produces a brief for the agent within the token budget.
func (g *Generator) Generate(ctx context.Context, opts Options) (*Result, error) {
	return g.generateWithExtra(ctx, opts, "")
}

// generateWithExtra renders a brief with optional supplementary
// snapshot context appended by the restore path.
func (g *Generator) generateWithExtra(ctx context.Context, opts Options, extra string) (*Result, error) {
	data, err := g.gather(ctx, opts)
	if err != nil {
		return nil, err
	}
	data.extra = extra

	text := render(opts.AgentType, opts.AgentID, data)
	text, truncated := Truncate(text, opts.MaxTokens)

	return &Result{
		Text:      text,
		Tokens:    EstimateTokens(text),
		Truncated: truncated,
		Sources:   collectSources(data),
	}, nil
}

// gather reads the six sources concurrently.
func (g *Generator) gather(ctx context.Context, opts Options) (*briefData, error) {
	actionLimit := opts.RecentActions
	if actionLimit <= 0 {
		actionLimit = defaultRecentActions
	}

	data := &briefData{}
	eg, gctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		subtasks, err := g.repo.ListSubtasksForAgent(gctx, opts.AgentType, opts.AgentID, 50)
		if err != nil {
			return err
		}
		data.subtasks = subtasks
		return nil
	})
	eg.Go(func() error {
		messages, err := g.repo.ListMessagesForAgent(gctx, opts.AgentID, true, 50)
		if err != nil {
			return err
		}
		data.messages = messages
		return nil
	})
	eg.Go(func() error {
		blockings, err := g.repo.ListBlockingsBlocking(gctx, opts.AgentID)
		if err != nil {
			return err
		}
		data.blockings = blockings
		return nil
	})
	eg.Go(func() error {
		actions, err := g.repo.ListRecentActionsForAgent(gctx, opts.AgentType, opts.AgentID, actionLimit)
		if err != nil {
			return err
		}
		data.actions = actions
		return nil
	})
	eg.Go(func() error {
		if opts.SessionID == "" {
			return nil
		}
		request, err := g.repo.LatestRequestForSession(gctx, opts.SessionID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data.request = request

		project, err := g.repo.GetProject(gctx, request.ProjectID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data.project = project
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	sortByRelevance(data)
	return data, nil
}

// subtaskRelevance scores a subtask for in-section ordering.
func subtaskRelevance(subtask *models.Subtask) float64 {
	if subtask.Status == v1.SubtaskStatusRunning {
		return relevanceRunningTask
	}
	return relevancePendingTask
}

// messageRelevance scores a message for in-section ordering.
func messageRelevance(message *models.AgentMessage) float64 {
	if message.Priority >= highMessagePriority {
		return relevanceHighMessage
	}
	return relevanceLowMessage
}

func sortByRelevance(data *briefData) {
	sort.SliceStable(data.subtasks, func(i, j int) bool {
		return subtaskRelevance(data.subtasks[i]) > subtaskRelevance(data.subtasks[j])
	})
	sort.SliceStable(data.messages, func(i, j int) bool {
		return messageRelevance(data.messages[i]) > messageRelevance(data.messages[j])
	})
}

func collectSources(data *briefData) []Source {
	sources := []Source{}
	for _, subtask := range data.subtasks {
		sources = append(sources, Source{Type: "subtask", ID: subtask.ID, Relevance: subtaskRelevance(subtask)})
	}
	for _, message := range data.messages {
		sources = append(sources, Source{Type: "message", ID: message.ID, Relevance: messageRelevance(message)})
	}
	for _, blocking := range data.blockings {
		sources = append(sources, Source{Type: "blocking", ID: blocking.ID, Relevance: relevanceBlocking})
	}
	for _, action := range data.actions {
		sources = append(sources, Source{Type: "action", ID: action.ID, Relevance: relevanceAction})
	}
	if data.request != nil {
		sources = append(sources, Source{Type: "request", ID: data.request.ID, Relevance: relevanceSession})
	}
	if data.project != nil {
		sources = append(sources, Source{Type: "project", ID: data.project.ID, Relevance: relevanceProject})
	}
	return sources
}
