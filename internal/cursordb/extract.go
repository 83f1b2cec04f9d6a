package cursordb

import (
	"context"
	"fmt"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/thebtf/devark/pkg/models"
)

// bubbleLookup resolves "bubbleId:{composerId}:{bubbleId}" values.
type bubbleLookup func(ctx context.Context, composerID, bubbleID string) (rawMessage, bool)

// extractMessages probes the known shapes in order and returns the first
// that yields non-empty content.
func extractMessages(ctx context.Context, c *composerData, lookup bubbleLookup) []rawMessage {
	for _, list := range [][]rawMessage{c.Messages, c.Conversation} {
		if msgs := nonEmpty(list); len(msgs) > 0 {
			return msgs
		}
	}
	if len(c.FullConversationHeadersOnly) > 0 && lookup != nil {
		var msgs []rawMessage
		for _, h := range c.FullConversationHeadersOnly {
			b, ok := lookup(ctx, c.ComposerID, h.BubbleID)
			if !ok {
				continue
			}
			if b.Type == 0 && b.Role == "" {
				b.Type = h.Type
			}
			if b.BubbleID == "" {
				b.BubbleID = h.BubbleID
			}
			msgs = append(msgs, b)
		}
		if msgs = nonEmpty(msgs); len(msgs) > 0 {
			return msgs
		}
	}
	return nonEmpty(c.ConversationHistory)
}

func nonEmpty(list []rawMessage) []rawMessage {
	out := make([]rawMessage, 0, len(list))
	for _, m := range list {
		if (m.isUser() || m.isAssistant()) && strings.TrimSpace(m.body()) != "" {
			out = append(out, m)
		}
	}
	return out
}

// SessionID returns the external session id for a composer.
func SessionID(composerID string) string {
	return string(models.SourceCursor) + "-" + composerID
}

// toSession converts a composer into a read-only session. Returns nil when
// the composer has no extractable messages.
func toSession(c *composerData, msgs []rawMessage, projectPath string, now time.Time) *models.Session {
	if len(msgs) == 0 {
		return nil
	}
	id := SessionID(c.ComposerID)
	start := c.CreatedAt.Time
	if start.IsZero() {
		start = msgs[0].at()
	}
	if start.IsZero() {
		start = c.LastUpdatedAt.Time
	}

	s := &models.Session{
		ID:        id,
		ProjectID: models.ProjectID(projectPath),
		Platform:  models.SourceCursor,
		StartTime: start,
		Metadata: models.SessionMetadata{
			ProjectPath: projectPath,
			Origin:      models.OriginExternal,
		},
		Prompts:   []*models.Prompt{},
		Responses: []*models.Response{},
	}

	var lastPromptID string
	prev := start
	for i, m := range msgs {
		ts := m.at()
		if ts.IsZero() {
			// Keep relative order when a bubble carries no timing.
			ts = prev.Add(time.Millisecond)
		}
		prev = ts
		key := m.BubbleID
		if key == "" {
			key = fmt.Sprintf("%d", i)
		}
		if m.isUser() {
			p := models.NewPrompt(id+"-"+key, id, m.body(), ts)
			s.Prompts = append(s.Prompts, p)
			lastPromptID = p.ID
			continue
		}
		s.Responses = append(s.Responses, &models.Response{
			ID:             id + "-" + key,
			PromptID:       lastPromptID,
			SessionID:      id,
			ConversationID: c.ComposerID,
			Source:         models.SourceCursor,
			Response:       m.body(),
			Success:        true,
			Timestamp:      ts,
		})
	}
	s.SortPromptsNewestFirst()
	s.Recompute(now)
	return s
}

func decodeComposer(value []byte) (*composerData, error) {
	var c composerData
	if err := json.Unmarshal(value, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
