package repository

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

const (
	routingScoreMin = -5.0
	routingScoreMax = 5.0
)

// ApplyRoutingFeedback moves the (keyword, tool) score by delta,
// clamped to [-5, 5], and bumps the usage counters. The keyword is
// lowercased. A missing row is created.
func (r *Repository) ApplyRoutingFeedback(ctx context.Context, keyword, toolName string, toolType v1.ToolType, delta float64, success bool) (*models.RoutingScore, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	now := time.Now().UTC()

	var score models.RoutingScore
	err := r.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &score, r.rebind(
			`SELECT * FROM routing_scores WHERE keyword = ? AND tool_name = ?`), keyword, toolName)
		if errors.Is(err, sql.ErrNoRows) {
			score = models.RoutingScore{
				Keyword:  keyword,
				ToolName: toolName,
				ToolType: toolType,
			}
			_, err = tx.ExecContext(ctx, r.rebind(
				`INSERT INTO routing_scores (keyword, tool_name, tool_type, score, use_count, success_count, last_used_at)
				 VALUES (?, ?, ?, 0, 0, 0, ?)`),
				keyword, toolName, toolType, now)
		}
		if err != nil {
			return err
		}

		score.Score = clamp(score.Score+delta, routingScoreMin, routingScoreMax)
		score.UseCount++
		if success {
			score.SuccessCount++
		}
		score.LastUsedAt = now

		_, err = tx.ExecContext(ctx, r.rebind(
			`UPDATE routing_scores SET score = ?, use_count = ?, success_count = ?, last_used_at = ?
			 WHERE keyword = ? AND tool_name = ?`),
			score.Score, score.UseCount, score.SuccessCount, score.LastUsedAt,
			keyword, toolName)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &score, nil
}

// ToolSuggestion is a ranked routing candidate. Combined is the score
// weighted by log-scaled usage, summed over the queried keywords.
type ToolSuggestion struct {
	ToolName     string      `json:"tool_name"`
	ToolType     v1.ToolType `json:"tool_type"`
	Combined     float64     `json:"combined_score"`
	UseCount     int         `json:"use_count"`
	SuccessCount int         `json:"success_count"`
}

// SuggestTools ranks tools for the given keywords, best first.
func (r *Repository) SuggestTools(ctx context.Context, keywords []string, toolType v1.ToolType, limit int) ([]*ToolSuggestion, error) {
	if limit <= 0 {
		limit = 10
	}
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	if len(lowered) == 0 {
		return []*ToolSuggestion{}, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM routing_scores WHERE keyword IN (?)`, lowered)
	if err != nil {
		return nil, err
	}
	if toolType != "" {
		query += ` AND tool_type = ?`
		args = append(args, toolType)
	}

	rows := []*models.RoutingScore{}
	if err := r.ro.SelectContext(ctx, &rows, r.rebind(query), args...); err != nil {
		return nil, err
	}

	byTool := map[string]*ToolSuggestion{}
	for _, row := range rows {
		s, ok := byTool[row.ToolName]
		if !ok {
			s = &ToolSuggestion{ToolName: row.ToolName, ToolType: row.ToolType}
			byTool[row.ToolName] = s
		}
		s.Combined += row.Score * (1 + math.Log1p(float64(row.UseCount)))
		s.UseCount += row.UseCount
		s.SuccessCount += row.SuccessCount
	}

	suggestions := make([]*ToolSuggestion, 0, len(byTool))
	for _, s := range byTool {
		suggestions = append(suggestions, s)
	}
	sort.Slice(suggestions, func(i, j int) bool {
		if suggestions[i].Combined != suggestions[j].Combined {
			return suggestions[i].Combined > suggestions[j].Combined
		}
		return suggestions[i].ToolName < suggestions[j].ToolName
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// RoutingStats summarizes the routing table.
type RoutingStats struct {
	TotalRows   int                    `json:"total_rows"`
	TopKeywords []*models.RoutingScore `json:"top_keywords"`
	TopTools    []*ToolUsage           `json:"top_tools"`
}

// ToolUsage aggregates routing rows per tool.
type ToolUsage struct {
	ToolName     string  `db:"tool_name" json:"tool_name"`
	UseCount     int     `db:"use_count" json:"use_count"`
	SuccessCount int     `db:"success_count" json:"success_count"`
	AvgScore     float64 `db:"avg_score" json:"avg_score"`
}

// GetRoutingStats returns the top keywords and tools by usage.
func (r *Repository) GetRoutingStats(ctx context.Context, limit int) (*RoutingStats, error) {
	if limit <= 0 {
		limit = 10
	}
	stats := &RoutingStats{TopKeywords: []*models.RoutingScore{}, TopTools: []*ToolUsage{}}

	if err := r.ro.GetContext(ctx, &stats.TotalRows,
		`SELECT COUNT(1) FROM routing_scores`); err != nil {
		return nil, err
	}
	if err := r.ro.SelectContext(ctx, &stats.TopKeywords, r.rebind(
		`SELECT * FROM routing_scores ORDER BY use_count DESC, score DESC LIMIT ?`), limit); err != nil {
		return nil, err
	}
	err := r.ro.SelectContext(ctx, &stats.TopTools, r.rebind(
		`SELECT tool_name,
		        SUM(use_count) AS use_count,
		        SUM(success_count) AS success_count,
		        AVG(score) AS avg_score
		 FROM routing_scores
		 GROUP BY tool_name
		 ORDER BY use_count DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
