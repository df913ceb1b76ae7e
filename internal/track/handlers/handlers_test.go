package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/contextd/contextd/internal/auth"
	"github.com/contextd/contextd/internal/brief"
	"github.com/contextd/contextd/internal/common/config"
	"github.com/contextd/contextd/internal/common/logger"
	"github.com/contextd/contextd/internal/track/repository"
	"github.com/contextd/contextd/internal/track/service"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	log := logger.Default()
	svc := service.NewService(repo, nil, log)
	generator := brief.NewGenerator(repo, log)
	compacter := brief.NewCompacter(repo, generator, nil, log)
	signer := auth.NewSigner("handlers-test-secret", 60)

	h := New(svc, generator, compacter, signer, auth.NewRateLimiter(),
		nil, config.CleanupConfig{}, true, log)

	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

// do issues a request with a JSON body and decodes the JSON response.
func do(t *testing.T, r *gin.Engine, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if len(rec.Body.Bytes()) > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec.Code, decoded
}

func strField(t *testing.T, m map[string]interface{}, key string) string {
	t.Helper()
	v, _ := m[key].(string)
	if v == "" {
		t.Fatalf("expected string field %q in %v", key, m)
	}
	return v
}

func TestIngestionFlow(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodPost, "/api/projects", map[string]interface{}{
		"path": "/tmp/flow", "name": "flow",
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating project, got %d: %v", code, body)
	}
	project, _ := body["project"].(map[string]interface{})
	projectID := strField(t, project, "id")

	code, _ = do(t, r, http.MethodPost, "/api/sessions", map[string]interface{}{
		"session_id": "s1", "project_id": projectID,
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating session, got %d", code)
	}

	code, body = do(t, r, http.MethodPost, "/api/requests", map[string]interface{}{
		"project_id": projectID, "session_id": "s1",
		"prompt": "Add OAuth login", "prompt_type": "feature",
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating request, got %d: %v", code, body)
	}
	requestID := strField(t, body, "id")

	code, body = do(t, r, http.MethodPost, "/api/tasks", map[string]interface{}{
		"request_id": requestID, "name": "wave 1",
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating task list, got %d: %v", code, body)
	}
	taskListID := strField(t, body, "id")

	code, body = do(t, r, http.MethodPost, "/api/subtasks", map[string]interface{}{
		"task_list_id": taskListID, "agent_type": "developer",
		"agent_id": "backend", "description": "implement token endpoint",
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating subtask, got %d: %v", code, body)
	}
	subtaskID := strField(t, body, "id")

	code, body = do(t, r, http.MethodPatch, "/api/subtasks/"+subtaskID, map[string]interface{}{
		"status": "running",
	})
	if code != http.StatusOK || body["status"] != "running" {
		t.Fatalf("expected running subtask, got %d: %v", code, body)
	}
	if body["started_at"] == nil {
		t.Error("expected started_at stamped on the running transition")
	}

	code, body = do(t, r, http.MethodPost, "/api/actions", map[string]interface{}{
		"subtask_id": subtaskID, "tool_name": "Edit", "tool_type": "builtin",
		"input": "patch auth/token.go", "output": "ok",
		"file_paths": []string{"auth/token.go"},
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 recording action, got %d: %v", code, body)
	}
	if body["input"] != "patch auth/token.go" {
		t.Errorf("expected the action echoed with decoded input, got %v", body["input"])
	}

	code, body = do(t, r, http.MethodPatch, "/api/sessions/s1", map[string]interface{}{
		"tool_used": true,
	})
	if code != http.StatusOK || body["tools_used"] != float64(1) {
		t.Fatalf("expected one tool use on the session, got %d: %v", code, body)
	}

	code, body = do(t, r, http.MethodGet, "/api/projects/"+projectID, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200 reading project, got %d: %v", code, body)
	}
	requests, _ := body["requests"].([]interface{})
	if len(requests) != 1 {
		t.Fatalf("expected the request embedded in the project, got %v", body["requests"])
	}
	embedded, _ := requests[0].(map[string]interface{})
	if embedded["id"] != requestID {
		t.Errorf("expected request %s embedded, got %v", requestID, embedded["id"])
	}

	code, body = do(t, r, http.MethodGet, "/api/hierarchy/"+projectID, nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200 from hierarchy, got %d: %v", code, body)
	}

	code, body = do(t, r, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["database"] != "ok" {
		t.Fatalf("expected healthy process, got %d: %v", code, body)
	}
}

func TestProjectUpsert_SecondCallReturnsExisting(t *testing.T) {
	r := newTestRouter(t)

	first, _ := do(t, r, http.MethodPost, "/api/projects", map[string]interface{}{"path": "/tmp/p"})
	second, body := do(t, r, http.MethodPost, "/api/projects", map[string]interface{}{"path": "/tmp/p"})
	if first != http.StatusCreated || second != http.StatusOK {
		t.Fatalf("expected 201 then 200, got %d then %d", first, second)
	}
	if body["created"] != false {
		t.Errorf("expected created false on the second call, got %v", body["created"])
	}
}

func TestValidationErrorShape(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodPost, "/api/requests", map[string]interface{}{
		"project_id": "p", "session_id": "s",
		"prompt": "x", "prompt_type": "poetry",
	})
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %v", code, body)
	}
	if body["error"] != "Validation failed" {
		t.Errorf("expected the Validation failed envelope, got %v", body["error"])
	}
	details, _ := body["details"].(map[string]interface{})
	if details["prompt_type"] == nil {
		t.Errorf("expected prompt_type detail, got %v", details)
	}
}

func TestNotFoundAndConflict(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodGet, "/api/projects/missing", nil)
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %v", code, body)
	}

	if code, _ = do(t, r, http.MethodPost, "/api/sessions", map[string]interface{}{"session_id": "dup"}); code != http.StatusCreated {
		t.Fatalf("expected 201 on first session, got %d", code)
	}
	code, body = do(t, r, http.MethodPost, "/api/sessions", map[string]interface{}{"session_id": "dup"})
	if code != http.StatusConflict {
		t.Fatalf("expected 409 on duplicate session, got %d: %v", code, body)
	}
}

func TestMessagingAndBlocking(t *testing.T) {
	r := newTestRouter(t)

	_, body := do(t, r, http.MethodPost, "/api/projects", map[string]interface{}{"path": "/tmp/msg"})
	project, _ := body["project"].(map[string]interface{})
	projectID := strField(t, project, "id")

	code, body := do(t, r, http.MethodPost, "/api/messages", map[string]interface{}{
		"project_id": projectID,
		"from_agent": "reviewer", "to_agent": "backend",
		"topic":        string(v1.TopicReviewRequested),
		"message_type": "request",
		"priority":     8,
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 sending message, got %d: %v", code, body)
	}
	messageID := strField(t, body, "id")

	code, body = do(t, r, http.MethodGet, "/api/messages/backend", nil)
	if code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("expected one unread message, got %d: %v", code, body)
	}

	code, _ = do(t, r, http.MethodPost, "/api/messages/"+messageID+"/read", map[string]interface{}{
		"agent_id": "backend",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 marking read, got %d", code)
	}
	_, body = do(t, r, http.MethodGet, "/api/messages/backend", nil)
	if body["total"] != float64(0) {
		t.Errorf("expected no unread messages after read, got %v", body["total"])
	}

	code, _ = do(t, r, http.MethodPost, "/api/blocking", map[string]interface{}{
		"blocker_id": "db-admin", "blocked_id": "backend", "reason": "schema freeze",
	})
	if code != http.StatusCreated {
		t.Fatalf("expected 201 creating blocking, got %d", code)
	}
	code, body = do(t, r, http.MethodGet, "/api/blocking/check?blocked=backend", nil)
	if code != http.StatusOK || body["blocked"] != true {
		t.Fatalf("expected backend blocked, got %d: %v", code, body)
	}

	code, _ = do(t, r, http.MethodPost, "/api/unblock", map[string]interface{}{
		"blocker_id": "db-admin", "blocked_id": "backend",
	})
	if code != http.StatusOK {
		t.Fatalf("expected 200 unblocking, got %d", code)
	}
	_, body = do(t, r, http.MethodGet, "/api/blocking/check?blocked=backend", nil)
	if body["blocked"] != false {
		t.Errorf("expected backend unblocked, got %v", body["blocked"])
	}
}

func TestCompactStatus_WithoutSnapshot(t *testing.T) {
	r := newTestRouter(t)

	code, body := do(t, r, http.MethodGet, "/api/compact/status/s1", nil)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, body)
	}
	if body["has_snapshot"] != false {
		t.Errorf("expected has_snapshot false, got %v", body["has_snapshot"])
	}
}

func TestTokenIssuance_RateLimited(t *testing.T) {
	r := newTestRouter(t)

	for i := 0; i < 10; i++ {
		code, body := do(t, r, http.MethodPost, "/api/auth/token", map[string]interface{}{
			"agent_id": "backend", "session_id": "s1",
		})
		if code != http.StatusOK {
			t.Fatalf("expected 200 on request %d, got %d: %v", i+1, code, body)
		}
		if strField(t, body, "token") == "" || body["agent_id"] != "backend" {
			t.Fatalf("expected a signed token, got %v", body)
		}
	}

	code, body := do(t, r, http.MethodPost, "/api/auth/token", map[string]interface{}{
		"agent_id": "backend",
	})
	if code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 past the window budget, got %d: %v", code, body)
	}
}
