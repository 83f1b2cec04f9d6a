package hooks

import (
	"time"

	"github.com/thebtf/devark/pkg/models"
)

// Record caps applied by writers before dropping a file.
const (
	MaxResponseChars = 5000
	MaxToolCalls     = 10
	MaxFilesModified = 20
	MaxToolResults   = 10
)

// Attachment is a file or rule attached to a prompt.
type Attachment struct {
	Type     string `json:"type"`
	FilePath string `json:"filePath"`
}

// PromptRecord is the on-disk JSON shape of a prompt drop file.
type PromptRecord struct {
	ID             string       `json:"id"`
	Timestamp      string       `json:"timestamp,omitempty"`
	Prompt         string       `json:"prompt"`
	Source         string       `json:"source,omitempty"`
	ConversationID string       `json:"conversationId,omitempty"`
	GenerationID   string       `json:"generationId,omitempty"`
	Model          string       `json:"model,omitempty"`
	CursorVersion  string       `json:"cursorVersion,omitempty"`
	UserEmail      string       `json:"userEmail,omitempty"`
	SessionID      string       `json:"sessionId,omitempty"`
	TranscriptPath string       `json:"transcriptPath,omitempty"`
	Cwd            string       `json:"cwd,omitempty"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	WorkspaceRoots []string     `json:"workspaceRoots,omitempty"`
}

// ResponseRecord is the on-disk JSON shape of a response drop file.
type ResponseRecord struct {
	LoopCount      *int                `json:"loopCount,omitempty"`
	Success        *bool               `json:"success,omitempty"`
	ID             string              `json:"id"`
	Timestamp      string              `json:"timestamp,omitempty"`
	Source         string              `json:"source,omitempty"`
	Response       string              `json:"response"`
	ConversationID string              `json:"conversationId,omitempty"`
	GenerationID   string              `json:"generationId,omitempty"`
	Model          string              `json:"model,omitempty"`
	CursorVersion  string              `json:"cursorVersion,omitempty"`
	SessionID      string              `json:"sessionId,omitempty"`
	TranscriptPath string              `json:"transcriptPath,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	Cwd            string              `json:"cwd,omitempty"`
	StopReason     string              `json:"stopReason,omitempty"`
	HookType       string              `json:"hookType,omitempty"`
	UserEmail      string              `json:"userEmail,omitempty"`
	ToolCalls      []models.ToolCall   `json:"toolCalls,omitempty"`
	FilesModified  []string            `json:"filesModified,omitempty"`
	ToolResults    []models.ToolResult `json:"toolResults,omitempty"`
	WorkspaceRoots []string            `json:"workspaceRoots,omitempty"`
	IsFinal        bool                `json:"isFinal,omitempty"`
}

// Truncate applies the record caps in place.
func (r *ResponseRecord) Truncate() {
	r.Response = models.Clamp(r.Response, MaxResponseChars)
	if len(r.ToolCalls) > MaxToolCalls {
		r.ToolCalls = r.ToolCalls[:MaxToolCalls]
	}
	if len(r.FilesModified) > MaxFilesModified {
		r.FilesModified = r.FilesModified[:MaxFilesModified]
	}
	if len(r.ToolResults) > MaxToolResults {
		r.ToolResults = r.ToolResults[:MaxToolResults]
	}
}

// ParseTimestamp parses an ISO-8601 timestamp, falling back to fallback when empty or invalid.
func ParseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05.000Z07:00"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return fallback
}

// ToPrompt converts the record to a domain prompt (session id is assigned later).
func (r *PromptRecord) ToPrompt(now time.Time) *models.Prompt {
	return models.NewPrompt(r.ID, "", r.Prompt, ParseTimestamp(r.Timestamp, now))
}

// ProjectPath returns the first workspace root, falling back to cwd.
func (r *PromptRecord) ProjectPath() string {
	if len(r.WorkspaceRoots) > 0 && r.WorkspaceRoots[0] != "" {
		return r.WorkspaceRoots[0]
	}
	return r.Cwd
}

// SourceSessionID is the tool's own session identity: conversation id for cursor, session id otherwise.
func (r *PromptRecord) SourceSessionID() string {
	if models.Source(r.Source) == models.SourceCursor && r.ConversationID != "" {
		return r.ConversationID
	}
	if r.SessionID != "" {
		return r.SessionID
	}
	return r.ConversationID
}

// ToResponse converts the record to a domain response.
func (r *ResponseRecord) ToResponse(now time.Time) *models.Response {
	success := true
	if r.Success != nil {
		success = *r.Success
	}
	return &models.Response{
		ID:             r.ID,
		Timestamp:      ParseTimestamp(r.Timestamp, now),
		Source:         models.Source(r.Source),
		Response:       r.Response,
		Success:        success,
		ConversationID: r.ConversationID,
		GenerationID:   r.GenerationID,
		SessionID:      r.SessionID,
		Model:          r.Model,
		CursorVersion:  r.CursorVersion,
		TranscriptPath: r.TranscriptPath,
		Reason:         r.Reason,
		StopReason:     r.StopReason,
		LoopCount:      r.LoopCount,
		HookType:       r.HookType,
		IsFinal:        r.IsFinal,
		Cwd:            r.Cwd,
		ToolCalls:      r.ToolCalls,
		ToolResults:    r.ToolResults,
		FilesModified:  r.FilesModified,
		WorkspaceRoots: r.WorkspaceRoots,
	}
}
