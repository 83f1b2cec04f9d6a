// Package models contains domain models for devark.
package models

import (
	"regexp"
	"strings"
	"time"
)

// TruncatedTextLength is the display length of Prompt.TruncatedText.
const TruncatedTextLength = 100

// Prompt is a user-authored prompt captured from an agent tool.
// Analysis fields are written once by the analysis orchestrator.
type Prompt struct {
	Timestamp     time.Time       `json:"timestamp"`
	Breakdown     *ScoreBreakdown `json:"breakdown,omitempty"`
	Score         *float64        `json:"score,omitempty"`
	EnhancedScore *float64        `json:"enhancedScore,omitempty"`
	ID            string          `json:"id"`
	SessionID     string          `json:"sessionId"`
	Text          string          `json:"text"`
	TruncatedText string          `json:"truncatedText"`
	EnhancedText  string          `json:"enhancedText,omitempty"`
	Explanation   string          `json:"explanation,omitempty"`
	QuickWins     []string        `json:"quickWins,omitempty"`
}

// NewPrompt builds a prompt with its truncated display text filled in.
func NewPrompt(id, sessionID, text string, ts time.Time) *Prompt {
	return &Prompt{
		ID:            id,
		SessionID:     sessionID,
		Text:          text,
		TruncatedText: TruncateText(text, TruncatedTextLength),
		Timestamp:     ts,
	}
}

// HasScore reports whether the prompt has been analyzed.
func (p *Prompt) HasScore() bool {
	return p != nil && p.Score != nil
}

var toolOnlyRegex = regexp.MustCompile(`^\s*\[Tool[^\]]*\]\s*$`)

// IsActualUserPrompt reports whether text was typed by a human rather than
// being an automated tool-result marker.
func IsActualUserPrompt(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, "[Tool result]") || strings.HasPrefix(trimmed, "[Tool:") {
		return false
	}
	if toolOnlyRegex.MatchString(text) {
		return false
	}
	// Claude Code emits these when the user hits escape or a tool result is echoed back.
	if strings.HasPrefix(trimmed, "[Request interrupted") {
		return false
	}
	if strings.HasPrefix(trimmed, "<tool_result>") && strings.HasSuffix(trimmed, "</tool_result>") {
		return false
	}
	return true
}

// CountActualUserPrompts counts prompts whose text is an actual user prompt.
func CountActualUserPrompts(prompts []*Prompt) int {
	n := 0
	for _, p := range prompts {
		if p != nil && IsActualUserPrompt(p.Text) {
			n++
		}
	}
	return n
}

// TruncateText cuts s to maxLen runes, appending "..." when cut.
func TruncateText(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// Clamp cuts s to maxLen runes without a suffix.
func Clamp(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen])
}
