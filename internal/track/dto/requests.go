// Package dto defines the request and response shapes of the contextd
// HTTP API. All keys are snake_case; category fields are validated
// against the closed sets in pkg/api/v1 by the service layer.
package dto

// CreateProjectRequest upserts a project by path.
type CreateProjectRequest struct {
	Path     string                 `json:"path"`
	Name     string                 `json:"name"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CreateSessionRequest registers a session with its hook-supplied id.
type CreateSessionRequest struct {
	SessionID string `json:"session_id"`
	ProjectID string `json:"project_id"`
}

// UpdateSessionRequest accumulates a tool use or ends the session.
type UpdateSessionRequest struct {
	ToolUsed bool  `json:"tool_used"`
	Success  *bool `json:"success"`
	Ended    bool  `json:"ended"`
}

// CreateRequestRequest records a user prompt under a session.
type CreateRequestRequest struct {
	ProjectID  string                 `json:"project_id"`
	SessionID  string                 `json:"session_id"`
	Prompt     string                 `json:"prompt"`
	PromptType string                 `json:"prompt_type"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// UpdateRequestRequest completes a request or replaces its metadata.
type UpdateRequestRequest struct {
	Status   string                 `json:"status"`
	Metadata map[string]interface{} `json:"metadata"`
}

// CreateTaskListRequest opens a wave under a request. A nil wave
// number auto-assigns max+1.
type CreateTaskListRequest struct {
	RequestID  string `json:"request_id"`
	Name       string `json:"name"`
	WaveNumber *int   `json:"wave_number"`
}

// CreateSubtaskRequest assigns a unit of work to an agent.
type CreateSubtaskRequest struct {
	TaskListID  string                 `json:"task_list_id"`
	AgentType   string                 `json:"agent_type"`
	AgentID     string                 `json:"agent_id"`
	Description string                 `json:"description"`
	DependsOn   []string               `json:"depends_on"`
	Context     map[string]interface{} `json:"context"`
}

// UpdateStatusRequest transitions a task list or subtask.
type UpdateStatusRequest struct {
	Status string  `json:"status"`
	Result *string `json:"result"`
}

// CreateActionRequest records one tool invocation. Input and output
// are raw text; the service compresses them.
type CreateActionRequest struct {
	SubtaskID  *string                `json:"subtask_id"`
	ToolName   string                 `json:"tool_name"`
	ToolType   string                 `json:"tool_type"`
	Input      string                 `json:"input"`
	Output     string                 `json:"output"`
	FilePaths  []string               `json:"file_paths"`
	ExitCode   int                    `json:"exit_code"`
	DurationMs int64                  `json:"duration_ms"`
	Metadata   map[string]interface{} `json:"metadata"`
}

// SendMessageRequest publishes a durable agent message. A nil
// to_agent broadcasts to the topic's subscribers.
type SendMessageRequest struct {
	ProjectID   string                 `json:"project_id"`
	FromAgent   *string                `json:"from_agent"`
	ToAgent     *string                `json:"to_agent"`
	Topic       string                 `json:"topic"`
	MessageType string                 `json:"message_type"`
	Payload     map[string]interface{} `json:"payload"`
	Priority    int                    `json:"priority"`
	TTLSeconds  int                    `json:"ttl_seconds"`
}

// MarkReadRequest marks a message read by an agent.
type MarkReadRequest struct {
	AgentID string `json:"agent_id"`
}

// SubscribeRequest joins or leaves a topic.
type SubscribeRequest struct {
	AgentID string `json:"agent_id"`
	Topic   string `json:"topic"`
}

// BlockRequest declares blocker is blocking blocked.
type BlockRequest struct {
	BlockerID string `json:"blocker_id"`
	BlockedID string `json:"blocked_id"`
	Reason    string `json:"reason"`
}

// UnblockRequest removes a blocking pair. Removing a pair that does
// not exist succeeds without effect.
type UnblockRequest struct {
	BlockerID string `json:"blocker_id"`
	BlockedID string `json:"blocked_id"`
}

// RoutingFeedbackRequest applies a bounded score delta to a
// (keyword, tool) pair.
type RoutingFeedbackRequest struct {
	Keyword  string  `json:"keyword"`
	ToolName string  `json:"tool_name"`
	ToolType string  `json:"tool_type"`
	Delta    float64 `json:"delta"`
	Success  bool    `json:"success"`
}

// UpsertContextRequest writes per-agent persistent state.
type UpsertContextRequest struct {
	ProjectID       string                 `json:"project_id"`
	AgentID         string                 `json:"agent_id"`
	AgentType       string                 `json:"agent_type"`
	RoleContext     map[string]interface{} `json:"role_context"`
	SkillsToRestore []string               `json:"skills_to_restore"`
	ToolsUsed       []string               `json:"tools_used"`
	Progress        string                 `json:"progress"`
}

// GenerateBriefRequest renders a token-bounded brief.
type GenerateBriefRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
	AgentType string `json:"agent_type"`
	MaxTokens int    `json:"max_tokens"`
}

// CompactSaveRequest snapshots a session's working context.
type CompactSaveRequest struct {
	SessionID string `json:"session_id"`
	Trigger   string `json:"trigger"`
}

// CompactRestoreRequest regenerates a brief seeded with the latest
// snapshot.
type CompactRestoreRequest struct {
	SessionID string `json:"session_id"`
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
	MaxTokens int    `json:"max_tokens"`
}

// TokenRequest issues a signed realtime token.
type TokenRequest struct {
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id"`
}
