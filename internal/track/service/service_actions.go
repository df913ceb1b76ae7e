package service

import (
	"bytes"
	"context"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

// RecordAction appends a tool invocation. Input and output are gzip'd
// before storage; empty blobs are stored as nil.
func (s *Service) RecordAction(ctx context.Context, action *models.Action, input, output []byte) (*models.Action, error) {
	fields := map[string]string{}
	if action.ToolName == "" {
		fields["tool_name"] = "is required"
	}
	if !v1.ValidToolType(action.ToolType) {
		fields["tool_type"] = "must be one of builtin, agent, skill, mcp, command"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	var err error
	if action.Input, err = compressBlob(input); err != nil {
		return nil, err
	}
	if action.Output, err = compressBlob(output); err != nil {
		return nil, err
	}

	if err := s.repo.CreateAction(ctx, action); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.ChannelGlobal, events.ActionRecorded, map[string]interface{}{
		"action_id":   action.ID,
		"tool_name":   action.ToolName,
		"tool_type":   string(action.ToolType),
		"exit_code":   action.ExitCode,
		"duration_ms": action.DurationMs,
	})
	return action, nil
}

// GetAction returns an action by id.
func (s *Service) GetAction(ctx context.Context, id string) (*models.Action, error) {
	return s.repo.GetAction(ctx, id)
}

// ListActions returns actions matching the filters.
func (s *Service) ListActions(ctx context.Context, subtaskID, toolName string, toolType v1.ToolType, limit int) ([]*models.Action, error) {
	if toolType != "" && !v1.ValidToolType(toolType) {
		return nil, invalid("tool_type", "is not an allowed tool type")
	}
	return s.repo.ListActions(ctx, subtaskID, toolName, toolType, limit)
}

// HourlyActionCounts aggregates action volume for the dashboard.
func (s *Service) HourlyActionCounts(ctx context.Context, hours int) ([]*repository.HourlyBucket, error) {
	return s.repo.HourlyActionCounts(ctx, hours)
}

// ActionBlobs decompresses an action's stored input and output.
func (s *Service) ActionBlobs(action *models.Action) (input, output []byte, err error) {
	if input, err = decompressBlob(action.Input); err != nil {
		return nil, nil, err
	}
	if output, err = decompressBlob(action.Output); err != nil {
		return nil, nil, err
	}
	return input, output, nil
}

func compressBlob(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressBlob(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
