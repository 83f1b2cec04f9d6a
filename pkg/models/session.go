package models

import (
	"sort"
	"strings"
	"time"
)

// ActiveWindow is how recent the last activity must be for a session to count as active.
const ActiveWindow = 24 * time.Hour

// SessionOrigin tags which store a session came from.
type SessionOrigin string

const (
	OriginHook     SessionOrigin = "hook"
	OriginExternal SessionOrigin = "external"
)

// TokenUsage is an estimate of tokens spent in a session.
type TokenUsage struct {
	PromptTokens   int `json:"promptTokens"`
	ResponseTokens int `json:"responseTokens"`
	TotalTokens    int `json:"totalTokens"`
}

// Add accumulates prompt and response token counts.
func (u *TokenUsage) Add(prompt, response int) {
	u.PromptTokens += prompt
	u.ResponseTokens += response
	u.TotalTokens = u.PromptTokens + u.ResponseTokens
}

// SessionMetadata carries source-specific identity and file information.
type SessionMetadata struct {
	SourceSessionID string        `json:"sourceSessionId,omitempty"`
	ProjectPath     string        `json:"projectPath,omitempty"`
	Origin          SessionOrigin `json:"origin,omitempty"`
	Files           []string      `json:"files,omitempty"`
}

// Session is a sequence of prompts and responses within one project and one source.
type Session struct {
	StartTime        time.Time       `json:"startTime"`
	LastActivityTime time.Time       `json:"lastActivityTime"`
	TotalDuration    *time.Duration  `json:"totalDuration,omitempty"`
	GoalProgress     *int            `json:"goalProgress,omitempty"`
	TokenUsage       *TokenUsage     `json:"tokenUsage,omitempty"`
	ID               string          `json:"id"`
	ProjectID        string          `json:"projectId"`
	Platform         Source          `json:"platform"`
	Goal             string          `json:"goal,omitempty"`
	CustomName       string          `json:"customName,omitempty"`
	Metadata         SessionMetadata `json:"metadata"`
	Prompts          []*Prompt       `json:"prompts"`
	Responses        []*Response     `json:"responses"`
	PromptCount      int             `json:"promptCount"`
	IsActive         bool            `json:"isActive"`
}

// SourceIdentity returns the underlying session id of the originating tool.
// Hook sessions carry it in metadata; external sessions encode it as "<source>-<id>".
func (s *Session) SourceIdentity() string {
	if s.Metadata.SourceSessionID != "" {
		return s.Metadata.SourceSessionID
	}
	prefix := string(s.Platform) + "-"
	if s.Platform != "" && strings.HasPrefix(s.ID, prefix) {
		return strings.TrimPrefix(s.ID, prefix)
	}
	return s.ID
}

// Recompute refreshes derived fields: promptCount, lastActivityTime, isActive, totalDuration.
func (s *Session) Recompute(now time.Time) {
	s.PromptCount = CountActualUserPrompts(s.Prompts)
	last := s.StartTime
	for _, p := range s.Prompts {
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	for _, r := range s.Responses {
		if r.Timestamp.After(last) {
			last = r.Timestamp
		}
	}
	s.LastActivityTime = last
	s.IsActive = now.Sub(last) <= ActiveWindow
	d := last.Sub(s.StartTime)
	s.TotalDuration = &d
}

// SortPromptsNewestFirst orders prompts by timestamp descending.
func (s *Session) SortPromptsNewestFirst() {
	sort.SliceStable(s.Prompts, func(i, j int) bool {
		return s.Prompts[i].Timestamp.After(s.Prompts[j].Timestamp)
	})
}

// Duration returns the span from start to last activity.
func (s *Session) Duration() time.Duration {
	return s.LastActivityTime.Sub(s.StartTime)
}

// FindPrompt returns the prompt with the given id, or nil.
func (s *Session) FindPrompt(id string) *Prompt {
	for _, p := range s.Prompts {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// DisplayName is the custom name when set, otherwise the first user prompt.
func (s *Session) DisplayName() string {
	if s.CustomName != "" {
		return s.CustomName
	}
	for i := len(s.Prompts) - 1; i >= 0; i-- {
		if IsActualUserPrompt(s.Prompts[i].Text) {
			return TruncateText(s.Prompts[i].Text, 60)
		}
	}
	return s.Platform.DisplayName() + " session"
}

// Project groups sessions that share a normalized workspace path.
type Project struct {
	LastActivityTime *time.Time `json:"lastActivityTime,omitempty"`
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Path             string     `json:"path,omitempty"`
	Sessions         []*Session `json:"sessions"`
	TotalSessions    int        `json:"totalSessions"`
	TotalPrompts     int        `json:"totalPrompts"`
	IsExpanded       bool       `json:"isExpanded"`
}

// NewProject creates an empty project for a workspace path.
func NewProject(path, name string) *Project {
	if name == "" {
		name = ProjectNameFromPath(path)
	}
	return &Project{
		ID:       ProjectID(path),
		Name:     name,
		Path:     path,
		Sessions: []*Session{},
	}
}

// Recompute refreshes the aggregate invariants from sessions.
func (p *Project) Recompute() {
	p.TotalSessions = len(p.Sessions)
	p.TotalPrompts = 0
	p.LastActivityTime = nil
	for _, s := range p.Sessions {
		p.TotalPrompts += s.PromptCount
		if p.LastActivityTime == nil || s.LastActivityTime.After(*p.LastActivityTime) {
			t := s.LastActivityTime
			p.LastActivityTime = &t
		}
	}
}

// FindSession returns the session with the given id, or nil.
func (p *Project) FindSession(id string) *Session {
	for _, s := range p.Sessions {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// SortSessions orders sessions by start time descending.
func (p *Project) SortSessions() {
	sort.SliceStable(p.Sessions, func(i, j int) bool {
		return p.Sessions[i].StartTime.After(p.Sessions[j].StartTime)
	})
}

// SortProjects orders projects by last activity descending; projects without activity go last.
func SortProjects(projects []*Project) {
	sort.SliceStable(projects, func(i, j int) bool {
		a, b := projects[i].LastActivityTime, projects[j].LastActivityTime
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
}
