package dto

import (
	"time"

	"github.com/contextd/contextd/internal/track/models"
)

// ListResponse wraps a homogeneous collection.
type ListResponse struct {
	Items interface{} `json:"items"`
	Total int         `json:"total"`
}

// NewList wraps items with their count.
func NewList(items interface{}, total int) ListResponse {
	return ListResponse{Items: items, Total: total}
}

// ProjectResponse carries a project plus whether the upsert created
// it (201) or returned the existing row (200).
type ProjectResponse struct {
	Project *models.Project `json:"project"`
	Created bool            `json:"created"`
}

// ProjectDetail is a project with its requests embedded, returned by
// the single-project read.
type ProjectDetail struct {
	*models.Project
	Requests []*models.Request `json:"requests"`
}

// ActionDTO is an action with its blobs decompressed back to text.
type ActionDTO struct {
	*models.Action
	Input  string `json:"input,omitempty"`
	Output string `json:"output,omitempty"`
}

// FromAction pairs an action row with its decoded blobs.
func FromAction(action *models.Action, input, output []byte) ActionDTO {
	return ActionDTO{Action: action, Input: string(input), Output: string(output)}
}

// TokenResponse is the issued realtime credential.
type TokenResponse struct {
	Token     string `json:"token"`
	AgentID   string `json:"agent_id"`
	SessionID string `json:"session_id,omitempty"`
	ExpiresAt int64  `json:"expires_at"`
}

// HealthResponse reports process and database liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	Mode      string    `json:"mode"`
	Timestamp time.Time `json:"timestamp"`
}
