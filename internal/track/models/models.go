// Package models defines the entity graph persisted by the contextd
// store: projects own requests own task lists own subtasks own
// actions; sessions, messages, subscriptions, blockings, routing
// scores, and agent contexts hang off the side.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// JSONMap is an open-shape metadata bag stored as JSON (JSONB on
// Postgres, TEXT on SQLite).
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	}
	return fmt.Errorf("unsupported JSONMap source type %T", src)
}

// StringList is a JSON-encoded list of strings.
type StringList []string

// Value implements driver.Valuer.
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StringList) Scan(src interface{}) error {
	if src == nil {
		*l = StringList{}
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, l)
	case string:
		return json.Unmarshal([]byte(v), l)
	}
	return fmt.Errorf("unsupported StringList source type %T", src)
}

// Contains reports whether the list contains s.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// Project is the root container, identified externally by its
// filesystem-like path.
type Project struct {
	ID        string    `db:"id" json:"id"`
	Path      string    `db:"path" json:"path"`
	Name      string    `db:"name" json:"name"`
	Metadata  JSONMap   `db:"metadata" json:"metadata"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Session is a conversation instance. Its identifier is supplied by
// the lifecycle hooks, not generated. A session is active while
// EndedAt is nil.
type Session struct {
	ID             string     `db:"id" json:"id"`
	ProjectID      *string    `db:"project_id" json:"project_id,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	EndedAt        *time.Time `db:"ended_at" json:"ended_at,omitempty"`
	ToolsUsed      int        `db:"tools_used" json:"tools_used"`
	ToolsSucceeded int        `db:"tools_succeeded" json:"tools_succeeded"`
	ToolsFailed    int        `db:"tools_failed" json:"tools_failed"`
}

// Active reports whether the session has not ended.
func (s *Session) Active() bool { return s.EndedAt == nil }

// Request is a user prompt scoped to a session.
type Request struct {
	ID          string           `db:"id" json:"id"`
	ProjectID   string           `db:"project_id" json:"project_id"`
	SessionID   string           `db:"session_id" json:"session_id"`
	Prompt      string           `db:"prompt" json:"prompt"`
	PromptType  v1.PromptType    `db:"prompt_type" json:"prompt_type"`
	Status      v1.RequestStatus `db:"status" json:"status"`
	Metadata    JSONMap          `db:"metadata" json:"metadata"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// TaskList is an ordered group of subtasks (a wave) under a request.
// Wave numbers are unique per request and auto-assigned contiguously
// when unspecified.
type TaskList struct {
	ID         string            `db:"id" json:"id"`
	RequestID  string            `db:"request_id" json:"request_id"`
	Name       string            `db:"name" json:"name"`
	WaveNumber int               `db:"wave_number" json:"wave_number"`
	Status     v1.TaskListStatus `db:"status" json:"status"`
	CreatedAt  time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time         `db:"updated_at" json:"updated_at"`
}

// Subtask is a unit of work assigned to an agent. StartedAt is set
// exactly when status first reaches running; CompletedAt when status
// reaches completed or failed.
type Subtask struct {
	ID          string           `db:"id" json:"id"`
	TaskListID  string           `db:"task_list_id" json:"task_list_id"`
	AgentType   string           `db:"agent_type" json:"agent_type"`
	AgentID     string           `db:"agent_id" json:"agent_id"`
	Description string           `db:"description" json:"description"`
	Status      v1.SubtaskStatus `db:"status" json:"status"`
	DependsOn   StringList       `db:"depends_on" json:"depends_on"`
	Context     JSONMap          `db:"context" json:"context"`
	Result      string           `db:"result" json:"result"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	StartedAt   *time.Time       `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time       `db:"completed_at" json:"completed_at,omitempty"`
}

// Action is an append-only record of a tool invocation. Input and
// Output hold gzip-compressed bytes. Exit code zero denotes success.
type Action struct {
	ID         string      `db:"id" json:"id"`
	SubtaskID  *string     `db:"subtask_id" json:"subtask_id,omitempty"`
	ToolName   string      `db:"tool_name" json:"tool_name"`
	ToolType   v1.ToolType `db:"tool_type" json:"tool_type"`
	Input      []byte      `db:"input" json:"-"`
	Output     []byte      `db:"output" json:"-"`
	FilePaths  StringList  `db:"file_paths" json:"file_paths"`
	ExitCode   int         `db:"exit_code" json:"exit_code"`
	DurationMs int64       `db:"duration_ms" json:"duration_ms"`
	Metadata   JSONMap     `db:"metadata" json:"metadata"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

// Succeeded reports whether the action exited cleanly.
func (a *Action) Succeeded() bool { return a.ExitCode == 0 }

// RoutingScore is a (keyword, tool) routing-intelligence row. Score
// moves by bounded feedback deltas; counters only grow.
type RoutingScore struct {
	Keyword      string      `db:"keyword" json:"keyword"`
	ToolName     string      `db:"tool_name" json:"tool_name"`
	ToolType     v1.ToolType `db:"tool_type" json:"tool_type"`
	Score        float64     `db:"score" json:"score"`
	UseCount     int         `db:"use_count" json:"use_count"`
	SuccessCount int         `db:"success_count" json:"success_count"`
	LastUsedAt   time.Time   `db:"last_used_at" json:"last_used_at"`
}

// AgentMessage is a pub/sub payload. A nil ToAgent means broadcast to
// every subscriber of the topic.
type AgentMessage struct {
	ID          string         `db:"id" json:"id"`
	ProjectID   string         `db:"project_id" json:"project_id"`
	FromAgent   *string        `db:"from_agent" json:"from_agent,omitempty"`
	ToAgent     *string        `db:"to_agent" json:"to_agent,omitempty"`
	Topic       string         `db:"topic" json:"topic"`
	MessageType v1.MessageType `db:"message_type" json:"message_type"`
	Payload     JSONMap        `db:"payload" json:"payload"`
	Priority    int            `db:"priority" json:"priority"`
	ReadBy      StringList     `db:"read_by" json:"read_by"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	ExpiresAt   *time.Time     `db:"expires_at" json:"expires_at,omitempty"`
}

// Expired reports whether the message has passed its expiration.
func (m *AgentMessage) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// UnreadBy reports whether the message is unread by the given agent
// and not expired.
func (m *AgentMessage) UnreadBy(agentID string, now time.Time) bool {
	return !m.Expired(now) && !m.ReadBy.Contains(agentID)
}

// TopicSubscription is an (agent, topic) subscription record.
type TopicSubscription struct {
	ID        string    `db:"id" json:"id"`
	AgentID   string    `db:"agent_id" json:"agent_id"`
	Topic     string    `db:"topic" json:"topic"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Blocking records that blocker is blocking blocked. An agent is
// blocked iff any active row names it as blocked.
type Blocking struct {
	ID        string    `db:"id" json:"id"`
	BlockerID string    `db:"blocker_id" json:"blocker_id"`
	BlockedID string    `db:"blocked_id" json:"blocked_id"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// AgentContext is per-agent persistent state used by restore. The
// reserved agent type "compact-snapshot" (with agent_id equal to the
// session id) marks a full-session snapshot instead of live state.
type AgentContext struct {
	ID              string     `db:"id" json:"id"`
	ProjectID       string     `db:"project_id" json:"project_id"`
	AgentID         string     `db:"agent_id" json:"agent_id"`
	AgentType       string     `db:"agent_type" json:"agent_type"`
	RoleContext     JSONMap    `db:"role_context" json:"role_context"`
	SkillsToRestore StringList `db:"skills_to_restore" json:"skills_to_restore"`
	ToolsUsed       StringList `db:"tools_used" json:"tools_used"`
	Progress        string     `db:"progress" json:"progress"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}

// IsSnapshot reports whether the row is a compact snapshot.
func (c *AgentContext) IsSnapshot() bool { return c.AgentType == v1.AgentTypeSnapshot }
