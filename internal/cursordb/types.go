// Package cursordb reads Cursor composer conversations from its read-only
// state.vscdb key/value store.
package cursordb

import (
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// Bubble types used by fullConversationHeadersOnly and conversation entries.
const (
	bubbleUser      = 1
	bubbleAssistant = 2
)

// composerData is the union of the composer shapes seen across schema versions.
// Key "composerData:{composerId}".
type composerData struct {
	ComposerID                  string          `json:"composerId"`
	Name                        string          `json:"name,omitempty"`
	Messages                    []rawMessage    `json:"messages,omitempty"`
	Conversation                []rawMessage    `json:"conversation,omitempty"`
	FullConversationHeadersOnly []bubbleHeader  `json:"fullConversationHeadersOnly,omitempty"`
	ConversationHistory         []rawMessage    `json:"conversationHistory,omitempty"`
	CreatedAt                   flexTime        `json:"createdAt"`
	LastUpdatedAt               flexTime        `json:"lastUpdatedAt,omitempty"`
	Version                     json.RawMessage `json:"_v,omitempty"`
}

type bubbleHeader struct {
	BubbleID string `json:"bubbleId"`
	Type     int    `json:"type"`
}

type timingInfo struct {
	StartedAt   flexTime `json:"startedAt,omitempty"`
	CompletedAt flexTime `json:"completedAt,omitempty"`
}

// rawMessage covers message entries, conversation bubbles and standalone
// "bubbleId:{composerId}:{bubbleId}" values.
type rawMessage struct {
	TimingInfo *timingInfo     `json:"timingInfo,omitempty"`
	Content    json.RawMessage `json:"content,omitempty"`
	BubbleID   string          `json:"bubbleId,omitempty"`
	Role       string          `json:"role,omitempty"`
	Text       string          `json:"text,omitempty"`
	CreatedAt  flexTime        `json:"createdAt,omitempty"`
	Timestamp  flexTime        `json:"timestamp,omitempty"`
	Type       int             `json:"type,omitempty"`
}

func (m rawMessage) isUser() bool {
	if m.Role != "" {
		return strings.EqualFold(m.Role, "user") || strings.EqualFold(m.Role, "human")
	}
	return m.Type == bubbleUser
}

func (m rawMessage) isAssistant() bool {
	if m.Role != "" {
		return strings.EqualFold(m.Role, "assistant") || strings.EqualFold(m.Role, "ai")
	}
	return m.Type == bubbleAssistant
}

// body returns text, falling back to a string or text-part content field.
func (m rawMessage) body() string {
	if strings.TrimSpace(m.Text) != "" {
		return m.Text
	}
	if len(m.Content) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(m.Content, &parts); err == nil {
		var b strings.Builder
		for _, p := range parts {
			if p.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteString("\n")
			}
			b.WriteString(p.Text)
		}
		return b.String()
	}
	return ""
}

func (m rawMessage) at() time.Time {
	if m.TimingInfo != nil && !m.TimingInfo.StartedAt.IsZero() {
		return m.TimingInfo.StartedAt.Time
	}
	if !m.CreatedAt.IsZero() {
		return m.CreatedAt.Time
	}
	return m.Timestamp.Time
}

// flexTime accepts unix milliseconds as a number or string, or an RFC 3339 string.
type flexTime struct {
	time.Time
}

func (f *flexTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		f.Time = time.UnixMilli(int64(ms))
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		f.Time = t
	}
	return nil
}

// workspaceRefs is the workspace database entry "composer.composerData".
type workspaceRefs struct {
	AllComposers []struct {
		ComposerID string `json:"composerId"`
	} `json:"allComposers"`
}

// workspaceJSON is workspaceStorage/<hash>/workspace.json.
type workspaceJSON struct {
	Workspace string `json:"workspace,omitempty"`
	Folder    string `json:"folder,omitempty"`
}
