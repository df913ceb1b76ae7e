package brief

import (
	"fmt"
	"strings"

	"github.com/contextd/contextd/internal/track/models"
	v1 "github.com/contextd/contextd/pkg/api/v1"
)

// render picks a template by agent type. Unknown agent types get the
// specialist template.
func render(agentType, agentID string, data *briefData) string {
	switch agentType {
	case v1.AgentTypeOrchestrator:
		return renderOrchestrator(agentID, data)
	case v1.AgentTypeDeveloper:
		return renderDeveloper(agentID, data)
	default:
		return renderSpecialist(agentType, agentID, data)
	}
}

// briefWriter accumulates sections. Header lines start with '#' so the
// truncation pass can preserve them.
type briefWriter struct {
	b strings.Builder
}

func (w *briefWriter) header(title string) {
	if w.b.Len() > 0 {
		w.b.WriteString("\n")
	}
	w.b.WriteString("# " + title + "\n")
}

func (w *briefWriter) line(format string, args ...interface{}) {
	fmt.Fprintf(&w.b, format+"\n", args...)
}

func (w *briefWriter) String() string { return strings.TrimRight(w.b.String(), "\n") }

func renderOrchestrator(agentID string, data *briefData) string {
	w := &briefWriter{}

	w.header("Mission")
	if data.request != nil {
		w.line("Request (%s): %s", data.request.PromptType, data.request.Prompt)
	}
	if data.project != nil {
		w.line("Project: %s (%s)", data.project.Name, data.project.Path)
	}

	w.header("Waves and Subtasks")
	writeSubtasks(w, data.subtasks)

	w.header("Agent Messages")
	writeMessages(w, data.messages)

	w.header("Blockings")
	writeBlockings(w, data.blockings)

	w.header("Recent Activity")
	writeActions(w, data.actions)

	writeExtra(w, data)
	return w.String()
}

func renderDeveloper(agentID string, data *briefData) string {
	w := &briefWriter{}

	w.header("Your Tasks")
	writeSubtasks(w, data.subtasks)

	w.header("Unread Messages")
	writeMessages(w, data.messages)

	w.header("Blockers")
	writeBlockings(w, data.blockings)

	w.header("Recent Actions")
	writeActions(w, data.actions)

	w.header("Current Request")
	if data.request != nil {
		w.line("%s: %s", data.request.PromptType, data.request.Prompt)
	}
	if data.project != nil {
		w.line("Project: %s (%s)", data.project.Name, data.project.Path)
	}

	writeExtra(w, data)
	return w.String()
}

func renderSpecialist(agentType, agentID string, data *briefData) string {
	w := &briefWriter{}

	w.header("Assignment")
	if agentType != "" {
		w.line("Role: %s", agentType)
	}
	writeSubtasks(w, data.subtasks)

	w.header("Messages")
	writeMessages(w, data.messages)

	w.header("Blockers")
	writeBlockings(w, data.blockings)

	w.header("Recent Actions")
	writeActions(w, data.actions)

	w.header("Session Context")
	if data.request != nil {
		w.line("Latest request (%s): %s", data.request.PromptType, data.request.Prompt)
	}
	if data.project != nil {
		w.line("Project: %s (%s)", data.project.Name, data.project.Path)
	}

	writeExtra(w, data)
	return w.String()
}

func writeSubtasks(w *briefWriter, subtasks []*models.Subtask) {
	for _, subtask := range subtasks {
		w.line("- [%s] %s", subtask.Status, subtask.Description)
		if subtask.Result != "" {
			w.line("  result: %s", subtask.Result)
		}
	}
}

func writeMessages(w *briefWriter, messages []*models.AgentMessage) {
	for _, message := range messages {
		from := "unknown"
		if message.FromAgent != nil {
			from = *message.FromAgent
		}
		w.line("- [p%d %s] from %s on %s", message.Priority, message.MessageType, from, message.Topic)
	}
}

func writeBlockings(w *briefWriter, blockings []*models.Blocking) {
	for _, blocking := range blockings {
		w.line("- blocked by %s: %s", blocking.BlockerID, blocking.Reason)
	}
}

func writeActions(w *briefWriter, actions []*models.Action) {
	for _, action := range actions {
		status := "ok"
		if !action.Succeeded() {
			status = fmt.Sprintf("exit %d", action.ExitCode)
		}
		w.line("- %s (%s, %s, %dms)", action.ToolName, action.ToolType, status, action.DurationMs)
	}
}

// writeExtra appends supplementary snapshot context on the restore
// path.
func writeExtra(w *briefWriter, data *briefData) {
	if data.extra == "" {
		return
	}
	w.header("Snapshot Context")
	for _, line := range strings.Split(data.extra, "\n") {
		w.line("%s", line)
	}
}
