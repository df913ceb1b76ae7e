package service

import (
	"context"
	"errors"
	"time"

	"github.com/contextd/contextd/internal/events"
	"github.com/contextd/contextd/internal/track/models"
	"github.com/contextd/contextd/internal/track/repository"
	v1 "github.com/contextd/contextd/pkg/api/v1"
	"github.com/contextd/contextd/pkg/realtime"
)

// UpsertProject creates a project by path or returns the existing one.
func (s *Service) UpsertProject(ctx context.Context, path, name string, metadata models.JSONMap) (*models.Project, bool, error) {
	if path == "" {
		return nil, false, invalid("path", "is required")
	}
	project, created, err := s.repo.UpsertProjectByPath(ctx, path, name, metadata)
	if err != nil {
		return nil, false, err
	}
	if created {
		s.emit(ctx, realtime.ChannelGlobal, events.ProjectCreated, map[string]interface{}{
			"project_id": project.ID,
			"path":       project.Path,
			"name":       project.Name,
		})
	}
	return project, created, nil
}

// GetProject returns a project by id.
func (s *Service) GetProject(ctx context.Context, id string) (*models.Project, error) {
	return s.repo.GetProject(ctx, id)
}

// GetProjectByPath returns a project by path.
func (s *Service) GetProjectByPath(ctx context.Context, path string) (*models.Project, error) {
	if path == "" {
		return nil, invalid("path", "is required")
	}
	return s.repo.GetProjectByPath(ctx, path)
}

// ListProjects returns projects ordered by recency.
func (s *Service) ListProjects(ctx context.Context, limit int) ([]*models.Project, error) {
	return s.repo.ListProjects(ctx, limit)
}

// StartSession records a session with its externally supplied id.
func (s *Service) StartSession(ctx context.Context, sessionID, projectID string) (*models.Session, error) {
	if sessionID == "" {
		return nil, invalid("session_id", "is required")
	}
	session := &models.Session{ID: sessionID}
	if projectID != "" {
		if _, err := s.repo.GetProject(ctx, projectID); err != nil {
			return nil, err
		}
		session.ProjectID = &projectID
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.SessionChannel(session.ID), events.SessionStarted, map[string]interface{}{
		"session_id": session.ID,
		"project_id": projectID,
		"started_at": session.StartedAt.Format(time.RFC3339),
	})
	return session, nil
}

// GetSession returns a session by id.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.repo.GetSession(ctx, id)
}

// ListSessions returns sessions, optionally only active ones.
func (s *Service) ListSessions(ctx context.Context, activeOnly bool, limit int) ([]*models.Session, error) {
	return s.repo.ListSessions(ctx, activeOnly, limit)
}

// RecordSessionToolUse bumps the per-session tool counters.
func (s *Service) RecordSessionToolUse(ctx context.Context, sessionID string, success bool) (*models.Session, error) {
	if err := s.repo.AddSessionToolUse(ctx, sessionID, success); err != nil {
		return nil, err
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.SessionChannel(sessionID), events.SessionUpdated, map[string]interface{}{
		"session_id":      session.ID,
		"tools_used":      session.ToolsUsed,
		"tools_succeeded": session.ToolsSucceeded,
		"tools_failed":    session.ToolsFailed,
	})
	return session, nil
}

// EndSession stamps the session end once.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := s.repo.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
		return nil, err
	}
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.SessionChannel(sessionID), events.SessionEnded, map[string]interface{}{
		"session_id": session.ID,
	})
	return session, nil
}

// CreateRequest records a user prompt under a project and session.
func (s *Service) CreateRequest(ctx context.Context, projectID, sessionID, prompt string, promptType v1.PromptType, metadata models.JSONMap) (*models.Request, error) {
	fields := map[string]string{}
	if projectID == "" {
		fields["project_id"] = "is required"
	}
	if sessionID == "" {
		fields["session_id"] = "is required"
	}
	if prompt == "" {
		fields["prompt"] = "is required"
	}
	if !v1.ValidPromptType(promptType) {
		fields["prompt_type"] = "must be one of feature, debug, explain, search"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	request := &models.Request{
		ProjectID:  projectID,
		SessionID:  sessionID,
		Prompt:     prompt,
		PromptType: promptType,
		Metadata:   metadata,
	}
	if err := s.repo.CreateRequest(ctx, request); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.SessionChannel(sessionID), events.RequestCreated, map[string]interface{}{
		"request_id":  request.ID,
		"project_id":  projectID,
		"session_id":  sessionID,
		"prompt_type": string(promptType),
	})
	return request, nil
}

// GetRequest returns a request by id.
func (s *Service) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	return s.repo.GetRequest(ctx, id)
}

// ListRequests returns requests filtered by session, project, or status.
func (s *Service) ListRequests(ctx context.Context, sessionID, projectID string, status v1.RequestStatus, limit int) ([]*models.Request, error) {
	if status != "" && status != v1.RequestStatusActive && status != v1.RequestStatusCompleted {
		return nil, invalid("status", "must be active or completed")
	}
	return s.repo.ListRequests(ctx, sessionID, projectID, status, limit)
}

// CompleteRequest transitions a request to completed, stamping the
// completion time only on the first call.
func (s *Service) CompleteRequest(ctx context.Context, id string) (*models.Request, error) {
	request, err := s.repo.CompleteRequest(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.SessionChannel(request.SessionID), events.RequestCompleted, map[string]interface{}{
		"request_id": request.ID,
		"session_id": request.SessionID,
	})
	return request, nil
}

// UpdateRequestMetadata replaces a request's metadata bag.
func (s *Service) UpdateRequestMetadata(ctx context.Context, id string, metadata models.JSONMap) (*models.Request, error) {
	if err := s.repo.UpdateRequestMetadata(ctx, id, metadata); err != nil {
		return nil, err
	}
	return s.repo.GetRequest(ctx, id)
}

// CreateTaskList opens a wave under a request. A nil waveNumber
// auto-assigns the next contiguous number.
func (s *Service) CreateTaskList(ctx context.Context, requestID, name string, waveNumber *int) (*models.TaskList, error) {
	if requestID == "" {
		return nil, invalid("request_id", "is required")
	}
	if waveNumber != nil && *waveNumber < 0 {
		return nil, invalid("wave_number", "must be non-negative")
	}
	taskList := &models.TaskList{RequestID: requestID, Name: name}
	if err := s.repo.CreateTaskList(ctx, taskList, waveNumber); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.ChannelGlobal, events.TaskCreated, map[string]interface{}{
		"task_list_id": taskList.ID,
		"request_id":   requestID,
		"wave_number":  taskList.WaveNumber,
	})
	return taskList, nil
}

// GetTaskList returns a task list by id.
func (s *Service) GetTaskList(ctx context.Context, id string) (*models.TaskList, error) {
	return s.repo.GetTaskList(ctx, id)
}

// ListTaskLists returns task lists in wave order.
func (s *Service) ListTaskLists(ctx context.Context, requestID string, limit int) ([]*models.TaskList, error) {
	return s.repo.ListTaskLists(ctx, requestID, limit)
}

// UpdateTaskListStatus transitions a wave.
func (s *Service) UpdateTaskListStatus(ctx context.Context, id string, status v1.TaskListStatus) (*models.TaskList, error) {
	if !v1.ValidTaskListStatus(status) {
		return nil, invalid("status", "must be one of pending, running, completed")
	}
	taskList, err := s.repo.UpdateTaskListStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.ChannelGlobal, events.TaskUpdated, map[string]interface{}{
		"task_list_id": taskList.ID,
		"request_id":   taskList.RequestID,
		"status":       string(status),
	})
	return taskList, nil
}

// CreateSubtask assigns a unit of work to an agent under a wave.
func (s *Service) CreateSubtask(ctx context.Context, subtask *models.Subtask) (*models.Subtask, error) {
	if subtask.TaskListID == "" {
		return nil, invalid("task_list_id", "is required")
	}
	if subtask.Status != "" && !v1.ValidSubtaskStatus(subtask.Status) {
		return nil, invalid("status", "is not an allowed subtask status")
	}
	if err := s.repo.CreateSubtask(ctx, subtask); err != nil {
		return nil, err
	}
	s.emit(ctx, realtime.ChannelGlobal, events.SubtaskCreated, map[string]interface{}{
		"subtask_id":   subtask.ID,
		"task_list_id": subtask.TaskListID,
		"agent_type":   subtask.AgentType,
		"agent_id":     subtask.AgentID,
	})
	return subtask, nil
}

// GetSubtask returns a subtask by id.
func (s *Service) GetSubtask(ctx context.Context, id string) (*models.Subtask, error) {
	return s.repo.GetSubtask(ctx, id)
}

// ListSubtasks returns subtasks matching the filters.
func (s *Service) ListSubtasks(ctx context.Context, taskListID string, status v1.SubtaskStatus, agentType, agentID string, limit int) ([]*models.Subtask, error) {
	if status != "" && !v1.ValidSubtaskStatus(status) {
		return nil, invalid("status", "is not an allowed subtask status")
	}
	return s.repo.ListSubtasks(ctx, taskListID, status, agentType, agentID, limit)
}

// UpdateSubtaskStatus transitions a subtask. The first running
// transition stamps started-at; terminal transitions stamp
// completed-at.
func (s *Service) UpdateSubtaskStatus(ctx context.Context, id string, status v1.SubtaskStatus, result *string) (*models.Subtask, error) {
	if !v1.ValidSubtaskStatus(status) {
		return nil, invalid("status", "is not an allowed subtask status")
	}
	subtask, err := s.repo.UpdateSubtaskStatus(ctx, id, status, result)
	if err != nil {
		return nil, err
	}

	event := events.SubtaskUpdated
	if status.IsTerminal() {
		event = events.SubtaskCompleted
	}
	data := map[string]interface{}{
		"subtask_id":   subtask.ID,
		"task_list_id": subtask.TaskListID,
		"status":       string(status),
	}
	s.emit(ctx, realtime.ChannelGlobal, event, data)
	if subtask.AgentID != "" {
		s.emit(ctx, realtime.AgentChannel(subtask.AgentID), event, data)
	}
	return subtask, nil
}

// HierarchyNode is one project's nested tree for the hierarchy
// endpoint. Flat responses with links remain the default elsewhere.
type HierarchyNode struct {
	Project  *models.Project   `json:"project"`
	Requests []*RequestNode    `json:"requests"`
	Sessions []*models.Session `json:"sessions"`
}

// RequestNode nests a request's waves.
type RequestNode struct {
	Request   *models.Request `json:"request"`
	TaskLists []*WaveNode     `json:"task_lists"`
}

// WaveNode nests a wave's subtasks.
type WaveNode struct {
	TaskList *models.TaskList  `json:"task_list"`
	Subtasks []*models.Subtask `json:"subtasks"`
}

// GetHierarchy assembles the nested tree under a project.
func (s *Service) GetHierarchy(ctx context.Context, projectID string) (*HierarchyNode, error) {
	project, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	requests, err := s.repo.ListRequests(ctx, "", projectID, "", 0)
	if err != nil {
		return nil, err
	}

	node := &HierarchyNode{Project: project, Requests: []*RequestNode{}, Sessions: []*models.Session{}}
	seenSessions := map[string]bool{}
	for _, request := range requests {
		reqNode := &RequestNode{Request: request, TaskLists: []*WaveNode{}}
		taskLists, err := s.repo.ListTaskLists(ctx, request.ID, 0)
		if err != nil {
			return nil, err
		}
		for _, taskList := range taskLists {
			subtasks, err := s.repo.ListSubtasks(ctx, taskList.ID, "", "", "", 0)
			if err != nil {
				return nil, err
			}
			reqNode.TaskLists = append(reqNode.TaskLists, &WaveNode{TaskList: taskList, Subtasks: subtasks})
		}
		node.Requests = append(node.Requests, reqNode)

		if !seenSessions[request.SessionID] {
			seenSessions[request.SessionID] = true
			if session, err := s.repo.GetSession(ctx, request.SessionID); err == nil {
				node.Sessions = append(node.Sessions, session)
			} else if !errors.Is(err, repository.ErrNotFound) {
				return nil, err
			}
		}
	}
	return node, nil
}
