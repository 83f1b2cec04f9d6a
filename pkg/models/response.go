package models

import "time"

// ToolCall is a tool invocation reported by the agent.
type ToolCall struct {
	Arguments map[string]any `json:"arguments,omitempty"`
	Name      string         `json:"name"`
}

// ToolResult is the outcome of a tool invocation.
type ToolResult struct {
	Name    string `json:"name,omitempty"`
	Output  string `json:"output,omitempty"`
	Success bool   `json:"success"`
}

// Response reasons and stop reasons as written by hook tools.
const (
	ReasonCompleted = "completed"
	ReasonError     = "error"
	ReasonCancelled = "cancelled"

	StopCompleted = "completed"
	StopAborted   = "aborted"
	StopError     = "error"
)

// Response is an agent response captured from a hook drop file.
type Response struct {
	Timestamp       time.Time    `json:"timestamp"`
	PromptTimestamp *time.Time   `json:"promptTimestamp,omitempty"`
	LoopCount       *int         `json:"loopCount,omitempty"`
	ID              string       `json:"id"`
	PromptID        string       `json:"promptId,omitempty"`
	PromptText      string       `json:"promptText,omitempty"`
	SessionID       string       `json:"sessionId,omitempty"`
	ConversationID  string       `json:"conversationId,omitempty"`
	GenerationID    string       `json:"generationId,omitempty"`
	Source          Source       `json:"source"`
	Response        string       `json:"response"`
	Reason          string       `json:"reason,omitempty"`
	StopReason      string       `json:"stopReason,omitempty"`
	HookType        string       `json:"hookType,omitempty"`
	Cwd             string       `json:"cwd,omitempty"`
	Model           string       `json:"model,omitempty"`
	CursorVersion   string       `json:"cursorVersion,omitempty"`
	TranscriptPath  string       `json:"transcriptPath,omitempty"`
	ToolCalls       []ToolCall   `json:"toolCalls,omitempty"`
	ToolResults     []ToolResult `json:"toolResults,omitempty"`
	FilesModified   []string     `json:"filesModified,omitempty"`
	WorkspaceRoots  []string     `json:"workspaceRoots,omitempty"`
	Success         bool         `json:"success"`
	IsFinal         bool         `json:"isFinal,omitempty"`
}

// Final reports whether this response closes its conversation.
// A response is final if flagged so or if it came from a stop hook.
func (r *Response) Final() bool {
	if r.IsFinal {
		return true
	}
	return r.HookType == "stop" || r.HookType == "Stop"
}

// ProjectPath returns the best-known workspace path for the response.
func (r *Response) ProjectPath() string {
	if len(r.WorkspaceRoots) > 0 && r.WorkspaceRoots[0] != "" {
		return r.WorkspaceRoots[0]
	}
	return r.Cwd
}

// ToolNames returns the names of tool calls in order.
func (r *Response) ToolNames() []string {
	names := make([]string, 0, len(r.ToolCalls))
	for _, tc := range r.ToolCalls {
		if tc.Name != "" {
			names = append(names, tc.Name)
		}
	}
	return names
}
