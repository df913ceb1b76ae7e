// Package v1 defines the shared API vocabulary for contextd: entity
// statuses, prompt and tool classifications, message types, and the
// allowed pub/sub topic set. All category fields accepted at the API
// boundary must validate against these closed sets.
package v1

// PromptType classifies a user request.
type PromptType string

const (
	PromptTypeFeature PromptType = "feature"
	PromptTypeDebug   PromptType = "debug"
	PromptTypeExplain PromptType = "explain"
	PromptTypeSearch  PromptType = "search"
)

// RequestStatus is the lifecycle state of a request.
type RequestStatus string

const (
	RequestStatusActive    RequestStatus = "active"
	RequestStatusCompleted RequestStatus = "completed"
)

// TaskListStatus is the lifecycle state of a task list (wave).
type TaskListStatus string

const (
	TaskListStatusPending   TaskListStatus = "pending"
	TaskListStatusRunning   TaskListStatus = "running"
	TaskListStatusCompleted TaskListStatus = "completed"
)

// SubtaskStatus is the lifecycle state of a subtask.
type SubtaskStatus string

const (
	SubtaskStatusPending   SubtaskStatus = "pending"
	SubtaskStatusRunning   SubtaskStatus = "running"
	SubtaskStatusPaused    SubtaskStatus = "paused"
	SubtaskStatusBlocked   SubtaskStatus = "blocked"
	SubtaskStatusCompleted SubtaskStatus = "completed"
	SubtaskStatusFailed    SubtaskStatus = "failed"
)

// IsTerminal reports whether the status is completed or failed.
func (s SubtaskStatus) IsTerminal() bool {
	return s == SubtaskStatusCompleted || s == SubtaskStatusFailed
}

// ToolType classifies a recorded tool invocation.
type ToolType string

const (
	ToolTypeBuiltin ToolType = "builtin"
	ToolTypeAgent   ToolType = "agent"
	ToolTypeSkill   ToolType = "skill"
	ToolTypeMCP     ToolType = "mcp"
	ToolTypeCommand ToolType = "command"
)

// MessageType classifies an agent message payload.
type MessageType string

const (
	MessageTypeInfo         MessageType = "info"
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
)

// CompactTrigger labels what initiated a compact save.
type CompactTrigger string

const (
	CompactTriggerAuto      CompactTrigger = "auto"
	CompactTriggerManual    CompactTrigger = "manual"
	CompactTriggerProactive CompactTrigger = "proactive"
)

// AgentTypeSnapshot is the reserved agent type marking a full-session
// compact snapshot stored in the agent_contexts table.
const AgentTypeSnapshot = "compact-snapshot"

// Agent types with dedicated brief templates. Unknown agent types
// render the specialist template.
const (
	AgentTypeOrchestrator = "orchestrator"
	AgentTypeDeveloper    = "developer"
	AgentTypeSpecialist   = "specialist"
)

// Allowed pub/sub topic names.
const (
	TopicTaskStarted        = "task_started"
	TopicTaskCompleted      = "task_completed"
	TopicTaskFailed         = "task_failed"
	TopicBlockerFound       = "blocker_found"
	TopicAPIEndpointCreated = "api_endpoint_created"
	TopicSchemaChanged      = "schema_changed"
	TopicFileModified       = "file_modified"
	TopicReviewRequested    = "review_requested"
	TopicDeployment         = "deployment"
	TopicTestResults        = "test_results"
	TopicAgentStatus        = "agent_status"
	TopicContextShare       = "context_share"
)

// Topics is the closed set of pub/sub topic names. Subscriptions and
// messages referencing any other topic are rejected.
var Topics = []string{
	TopicTaskStarted,
	TopicTaskCompleted,
	TopicTaskFailed,
	TopicBlockerFound,
	TopicAPIEndpointCreated,
	TopicSchemaChanged,
	TopicFileModified,
	TopicReviewRequested,
	TopicDeployment,
	TopicTestResults,
	TopicAgentStatus,
	TopicContextShare,
}

var topicSet = func() map[string]bool {
	m := make(map[string]bool, len(Topics))
	for _, t := range Topics {
		m[t] = true
	}
	return m
}()

// ValidTopic reports whether name is in the allowed topic set.
func ValidTopic(name string) bool { return topicSet[name] }

// ValidPromptType reports whether t is an allowed prompt type.
func ValidPromptType(t PromptType) bool {
	switch t {
	case PromptTypeFeature, PromptTypeDebug, PromptTypeExplain, PromptTypeSearch:
		return true
	}
	return false
}

// ValidTaskListStatus reports whether s is an allowed task-list status.
func ValidTaskListStatus(s TaskListStatus) bool {
	switch s {
	case TaskListStatusPending, TaskListStatusRunning, TaskListStatusCompleted:
		return true
	}
	return false
}

// ValidSubtaskStatus reports whether s is an allowed subtask status.
func ValidSubtaskStatus(s SubtaskStatus) bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusRunning, SubtaskStatusPaused,
		SubtaskStatusBlocked, SubtaskStatusCompleted, SubtaskStatusFailed:
		return true
	}
	return false
}

// ValidToolType reports whether t is an allowed tool type.
func ValidToolType(t ToolType) bool {
	switch t {
	case ToolTypeBuiltin, ToolTypeAgent, ToolTypeSkill, ToolTypeMCP, ToolTypeCommand:
		return true
	}
	return false
}

// ValidMessageType reports whether t is an allowed message type.
func ValidMessageType(t MessageType) bool {
	switch t {
	case MessageTypeInfo, MessageTypeRequest, MessageTypeResponse, MessageTypeNotification:
		return true
	}
	return false
}

// ValidCompactTrigger reports whether t is an allowed compact trigger.
func ValidCompactTrigger(t CompactTrigger) bool {
	switch t {
	case CompactTriggerAuto, CompactTriggerManual, CompactTriggerProactive:
		return true
	}
	return false
}
