// Package linker matches agent responses to the prompts that triggered them and
// aggregates conversation state until a final response closes it.
package linker

import (
	"sync"
	"time"

	"github.com/thebtf/devark/pkg/models"
)

// TTLs for the two lazily swept maps.
const (
	PromptTTL       = 5 * time.Minute
	ConversationTTL = 30 * time.Minute
)

// Key identifies a conversation across prompts and responses.
type Key string

// KeyFor derives the linking key. Cursor links by conversation id (the generation
// id changes per response); other sources link by session id.
func KeyFor(source models.Source, conversationID, sessionID string) Key {
	if source == models.SourceCursor {
		if conversationID == "" {
			return ""
		}
		return Key("cursor:" + conversationID)
	}
	id := sessionID
	if id == "" {
		id = conversationID
	}
	if id == "" {
		return ""
	}
	return Key("claude:" + id)
}

// ResponseKey derives the key for a response.
func ResponseKey(r *models.Response) Key {
	return KeyFor(r.Source, r.ConversationID, r.SessionID)
}

type promptEntry struct {
	prompt *models.Prompt
	seenAt time.Time
}

type conversation struct {
	startTime *time.Time
	touchedAt time.Time
	prompts   []*models.Prompt
	responses []*models.Response
}

// Linker holds the last prompt and the running aggregate per key.
type Linker struct {
	now           func() time.Time
	lastPrompt    map[Key]promptEntry
	conversations map[Key]*conversation
	mu            sync.Mutex
}

// New creates an empty Linker.
func New() *Linker {
	return &Linker{
		now:           time.Now,
		lastPrompt:    make(map[Key]promptEntry),
		conversations: make(map[Key]*conversation),
	}
}

// SetClock overrides the time source.
func (l *Linker) SetClock(now func() time.Time) {
	l.now = now
}

// OnPrompt records p as the latest prompt for key and appends it to the aggregate.
func (l *Linker) OnPrompt(key Key, p *models.Prompt) {
	if key == "" || p == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	l.lastPrompt[key] = promptEntry{prompt: p, seenAt: now}
	c := l.conversation(key, now)
	c.prompts = append(c.prompts, p)
	if c.startTime == nil {
		start := p.Timestamp
		if start.IsZero() {
			start = now
		}
		c.startTime = &start
	}
}

// OnResponse links r to its prompt in place. For a final response it returns the
// closed ConversationState and erases the aggregate; otherwise it returns nil.
func (l *Linker) OnResponse(r *models.Response) *models.ConversationState {
	key := ResponseKey(r)
	if key == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	if e, ok := l.lastPrompt[key]; ok && r.PromptID == "" {
		r.PromptID = e.prompt.ID
		r.PromptText = e.prompt.Text
		ts := e.prompt.Timestamp
		r.PromptTimestamp = &ts
	}

	c := l.conversation(key, now)
	if !r.Final() {
		c.responses = append(c.responses, r)
		return nil
	}

	state := buildState(r, c)
	delete(l.conversations, key)
	return &state
}

// HasConversation reports whether an aggregate exists for key.
func (l *Linker) HasConversation(key Key) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.now())
	_, ok := l.conversations[key]
	return ok
}

// LastPrompt returns the latest prompt for key if still within its TTL.
func (l *Linker) LastPrompt(key Key) *models.Prompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(l.now())
	if e, ok := l.lastPrompt[key]; ok {
		return e.prompt
	}
	return nil
}

func (l *Linker) conversation(key Key, now time.Time) *conversation {
	c, ok := l.conversations[key]
	if !ok {
		c = &conversation{}
		l.conversations[key] = c
	}
	c.touchedAt = now
	return c
}

// sweep purges expired entries. Caller holds mu.
func (l *Linker) sweep(now time.Time) {
	for k, e := range l.lastPrompt {
		if now.Sub(e.seenAt) > PromptTTL {
			delete(l.lastPrompt, k)
		}
	}
	for k, c := range l.conversations {
		if now.Sub(c.touchedAt) > ConversationTTL {
			delete(l.conversations, k)
		}
	}
}

func buildState(final *models.Response, c *conversation) models.ConversationState {
	state := models.ConversationState{
		ConversationID: final.ConversationID,
		EndTime:        final.Timestamp,
		StartTime:      c.startTime,
		TotalPrompts:   len(c.prompts),
		TotalResponses: len(c.responses),
		StopReason:     final.StopReason,
		FilesModified:  []string{},
		ToolsUsed:      []string{},
	}
	if state.ConversationID == "" {
		state.ConversationID = final.SessionID
	}
	if state.StopReason == "" {
		state.StopReason = models.StopCompleted
	}
	if final.LoopCount != nil {
		state.LoopCount = *final.LoopCount
	}
	if c.startTime != nil {
		d := final.Timestamp.Sub(*c.startTime).Milliseconds()
		state.DurationMs = &d
	}

	files := make(map[string]bool)
	tools := make(map[string]bool)
	all := append(append([]*models.Response{}, c.responses...), final)
	for _, r := range all {
		for _, f := range r.FilesModified {
			if !files[f] {
				files[f] = true
				state.FilesModified = append(state.FilesModified, f)
			}
		}
		for _, name := range r.ToolNames() {
			if !tools[name] {
				tools[name] = true
				state.ToolsUsed = append(state.ToolsUsed, name)
			}
		}
	}
	return state
}
