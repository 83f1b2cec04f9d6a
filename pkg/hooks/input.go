package hooks

import (
	"strings"

	"github.com/thebtf/devark/pkg/models"
)

// Input is the stdin payload of a Cursor or Claude Code hook. The two tools
// share snake_case keys; fields a tool does not send stay empty.
type Input struct {
	LoopCount      *int              `json:"loop_count,omitempty"`
	HookEventName  string            `json:"hook_event_name"`
	ConversationID string            `json:"conversation_id,omitempty"`
	GenerationID   string            `json:"generation_id,omitempty"`
	SessionID      string            `json:"session_id,omitempty"`
	TranscriptPath string            `json:"transcript_path,omitempty"`
	Cwd            string            `json:"cwd,omitempty"`
	Prompt         string            `json:"prompt,omitempty"`
	Text           string            `json:"text,omitempty"`
	Status         string            `json:"status,omitempty"`
	Model          string            `json:"model,omitempty"`
	CursorVersion  string            `json:"cursor_version,omitempty"`
	UserEmail      string            `json:"user_email,omitempty"`
	Attachments    []InputAttachment `json:"attachments,omitempty"`
	WorkspaceRoots []string          `json:"workspace_roots,omitempty"`
	StopHookActive bool              `json:"stop_hook_active,omitempty"`
}

// InputAttachment is a Cursor prompt attachment.
type InputAttachment struct {
	Type     string `json:"type"`
	FilePath string `json:"file_path"`
}

var claudeEvents = map[string]bool{
	"UserPromptSubmit": true, "Stop": true, "SessionStart": true, "SessionEnd": true, "PreCompact": true,
}

// Source resolves the originating tool: an explicit "--source" argument wins,
// then the hook event name, then the presence of a Cursor conversation id.
func (in *Input) Source(args []string) models.Source {
	for i, a := range args {
		switch {
		case a == "--source" && i+1 < len(args):
			return models.Source(args[i+1])
		case strings.HasPrefix(a, "--source="):
			return models.Source(strings.TrimPrefix(a, "--source="))
		}
	}
	if claudeEvents[in.HookEventName] {
		return models.SourceClaudeCode
	}
	if in.ConversationID != "" || in.HookEventName != "" {
		return models.SourceCursor
	}
	return models.SourceClaudeCode
}

// PromptRecord converts the payload into a prompt drop record.
func (in *Input) PromptRecord(source models.Source) *PromptRecord {
	rec := &PromptRecord{
		Prompt:         in.Prompt,
		Source:         string(source),
		ConversationID: in.ConversationID,
		GenerationID:   in.GenerationID,
		Model:          in.Model,
		CursorVersion:  in.CursorVersion,
		UserEmail:      in.UserEmail,
		SessionID:      in.SessionID,
		TranscriptPath: in.TranscriptPath,
		Cwd:            in.Cwd,
		WorkspaceRoots: in.WorkspaceRoots,
	}
	for _, a := range in.Attachments {
		rec.Attachments = append(rec.Attachments, Attachment{Type: a.Type, FilePath: a.FilePath})
	}
	return rec
}

// ResponseRecord converts the payload into a response drop record. Cursor's
// stop status doubles as the stop reason.
func (in *Input) ResponseRecord(source models.Source, final bool) *ResponseRecord {
	rec := &ResponseRecord{
		Source:         string(source),
		Response:       in.Text,
		ConversationID: in.ConversationID,
		GenerationID:   in.GenerationID,
		Model:          in.Model,
		CursorVersion:  in.CursorVersion,
		SessionID:      in.SessionID,
		TranscriptPath: in.TranscriptPath,
		Cwd:            in.Cwd,
		HookType:       in.HookEventName,
		UserEmail:      in.UserEmail,
		WorkspaceRoots: in.WorkspaceRoots,
		LoopCount:      in.LoopCount,
		IsFinal:        final,
	}
	if in.Status != "" {
		rec.StopReason = in.Status
		switch in.Status {
		case models.StopError:
			rec.Reason = models.ReasonError
		case models.StopAborted:
			rec.Reason = models.ReasonCancelled
		default:
			rec.Reason = models.ReasonCompleted
		}
		ok := in.Status != models.StopError
		rec.Success = &ok
	}
	return rec
}
